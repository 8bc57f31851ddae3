package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/checkpoint"
	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kg-publisher/publisher")

// Result is the outcome of one batch. Skipped batches were confirmed by an
// earlier run, or explicitly skipped, and were not submitted again.
type Result struct {
	Index   int    `json:"index"`
	TxHash  string `json:"txHash,omitempty"`
	CID     string `json:"cid,omitempty"`
	Block   uint64 `json:"block,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
}

type Batch struct {
	Index int
	Total int
	Ops   []ops.Op
}

type Submission struct {
	CID    string
	TxHash string
}

// BatchSubmitter publishes a batch and sends the transaction recording it
// (Submit), then waits for that transaction to be mined (Confirm).
type BatchSubmitter interface {
	Submit(ctx context.Context, spaceID string, batch Batch) (Submission, error)
	Confirm(ctx context.Context, txHash string) (uint64, error)
}

type Checkpoint interface {
	Lookup(ctx context.Context, index int) (checkpoint.Entry, bool, error)
	Record(ctx context.Context, e checkpoint.Entry) error
}

type Option func(*Publisher)

func WithInterBatchDelay(d time.Duration) Option {
	return func(p *Publisher) {
		p.delay = d
	}
}

func WithCheckpoint(cp Checkpoint) Option {
	return func(p *Publisher) {
		p.checkpoint = cp
	}
}

func WithReporter(r Reporter) Option {
	return func(p *Publisher) {
		if r != nil {
			p.reporter = r
		}
	}
}

// StartAt skips the first n batches without submitting them
func StartAt(n int) Option {
	return func(p *Publisher) {
		p.startAt = n
	}
}

type Publisher struct {
	submitter  BatchSubmitter
	delay      time.Duration
	checkpoint Checkpoint
	reporter   Reporter
	startAt    int

	sleep func(context.Context, time.Duration) error
}

func New(submitter BatchSubmitter, options ...Option) *Publisher {
	p := &Publisher{
		submitter: submitter,
		delay:     2 * time.Second,
		reporter:  nopReporter{},
		sleep:     sleep,
	}

	for _, option := range options {
		option(p)
	}

	return p
}

// Publish submits batches to a space strictly one at a time, in order. The
// first failing batch ends the run; the results of the batches before it
// are returned together with the error.
func (p *Publisher) Publish(ctx context.Context, spaceID string, batches [][]ops.Op) ([]Result, error) {
	total := len(batches)
	results := make([]Result, 0, total)
	submitted := 0

	log := logging.GetFromContext(ctx).With("space_id", spaceID)
	ctx = logging.NewContextWithLogger(ctx, log)

	p.reporter.RunStarted(spaceID, total)

	for idx, batch := range batches {
		if idx < p.startAt {
			results = append(results, Result{Index: idx, Skipped: true})
			p.reporter.BatchSkipped(idx)
			continue
		}

		if p.checkpoint != nil {
			result, done, err := p.resume(ctx, idx)
			if err != nil {
				p.reporter.BatchFailed(idx, err)
				p.reporter.RunFinished(err)
				return results, err
			}
			if done {
				results = append(results, result)
				p.reporter.BatchSkipped(idx)
				continue
			}
		}

		if submitted > 0 && p.delay > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				p.reporter.RunFinished(err)
				return results, err
			}
		}
		submitted++

		result, err := p.publishBatch(ctx, spaceID, Batch{Index: idx, Total: total, Ops: batch})
		if err != nil {
			err = fmt.Errorf("batch %d of %d: %w", idx+1, total, err)
			log.Error("batch failed", "batch", idx+1, "total", total, "err", err.Error())
			p.reporter.BatchFailed(idx, err)
			p.reporter.RunFinished(err)
			return results, err
		}

		results = append(results, result)
	}

	p.reporter.RunFinished(nil)

	return results, nil
}

func (p *Publisher) publishBatch(ctx context.Context, spaceID string, b Batch) (Result, error) {
	var err error

	ctx, span := tracer.Start(ctx, "publish-batch",
		trace.WithAttributes(
			attribute.String("space-id", spaceID),
			attribute.Int("batch", b.Index+1),
			attribute.Int("operations", len(b.Ops)),
		),
	)
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)
	result := Result{Index: b.Index}

	p.reporter.BatchStarted(b.Index, len(b.Ops))

	sub, err := p.submitter.Submit(ctx, spaceID, b)
	if err != nil {
		return result, err
	}

	result.CID = sub.CID
	result.TxHash = sub.TxHash

	p.reporter.BatchSubmitted(b.Index, sub.TxHash)
	log.Info("batch submitted", "batch", b.Index+1, "total", b.Total, "operations", len(b.Ops), "tx_hash", sub.TxHash, "cid", sub.CID)

	block, err := p.submitter.Confirm(ctx, sub.TxHash)
	if err != nil {
		if errors.Is(err, grc20errors.ErrConfirmationTimeout) && p.checkpoint != nil {
			if cperr := p.checkpoint.Record(ctx, checkpoint.Entry{Index: b.Index, Status: checkpoint.StatusPending, CID: sub.CID, TxHash: sub.TxHash}); cperr != nil {
				log.Error("failed to record pending batch", "batch", b.Index+1, "err", cperr.Error())
			}
		}
		err = fmt.Errorf("transaction %s: %w", sub.TxHash, err)
		return result, err
	}

	result.Block = block

	if p.checkpoint != nil {
		err = p.checkpoint.Record(ctx, checkpoint.Entry{Index: b.Index, Status: checkpoint.StatusConfirmed, CID: sub.CID, TxHash: sub.TxHash, Block: block})
		if err != nil {
			return result, err
		}
	}

	p.reporter.BatchConfirmed(b.Index, block)
	log.Info("batch confirmed", "batch", b.Index+1, "total", b.Total, "tx_hash", sub.TxHash, "block", block)

	return result, nil
}

// resume reports whether batch idx was already handled by an earlier run.
// A batch left pending is looked up again but never resubmitted.
func (p *Publisher) resume(ctx context.Context, idx int) (Result, bool, error) {
	entry, found, err := p.checkpoint.Lookup(ctx, idx)
	if err != nil || !found {
		return Result{}, false, err
	}

	result := Result{Index: idx, CID: entry.CID, TxHash: entry.TxHash, Block: entry.Block, Skipped: true}

	if entry.Status == checkpoint.StatusConfirmed {
		return result, true, nil
	}

	logging.GetFromContext(ctx).Info("checking pending batch", "batch", idx+1, "tx_hash", entry.TxHash)

	block, err := p.submitter.Confirm(ctx, entry.TxHash)
	if err != nil {
		return result, false, fmt.Errorf("batch %d is pending, transaction %s: %w", idx+1, entry.TxHash, err)
	}

	entry.Status = checkpoint.StatusConfirmed
	entry.Block = block
	if err = p.checkpoint.Record(ctx, entry); err != nil {
		return result, false, err
	}

	result.Block = block
	return result, true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
