package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/kg-publisher/internal/pkg/application/config"
	"github.com/diwise/kg-publisher/internal/pkg/application/mapper"
	"github.com/diwise/kg-publisher/internal/pkg/application/operations"
	"github.com/diwise/kg-publisher/internal/pkg/application/publisher"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/chain"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/checkpoint"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/records"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/router"
	"github.com/diwise/kg-publisher/internal/pkg/presentation/api/control"
	"github.com/diwise/kg-publisher/pkg/grc20/client"
	grc20errors "github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/diwise/kg-publisher/pkg/grc20/ops"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// selectLabels resolves the entity types named on the command line, or all
// types of the schema
func selectLabels(schema *mapper.Schema, args []string, all bool) ([]string, error) {
	if all {
		return schema.Labels(), nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("no entity types given, name one or more of %s or use --all", strings.Join(schema.Labels(), ", "))
	}

	labels := make([]string, 0, len(args))
	for _, arg := range args {
		t, ok := schema.Type(arg)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q, expected one of %s", arg, strings.Join(schema.Labels(), ", "))
		}
		labels = append(labels, t.Label)
	}

	return labels, nil
}

func loadRecords(ctx context.Context, cfg config.Config, args []string, all bool) (*mapper.Mapper, []records.Record, []string, error) {
	if cfg.Source == "" {
		return nil, nil, nil, grc20errors.NewMissingSettingError("SOURCE")
	}

	schema, err := mapper.Load(cfg.Schema)
	if err != nil {
		return nil, nil, nil, err
	}

	labels, err := selectLabels(schema, args, all)
	if err != nil {
		return nil, nil, nil, err
	}

	src, err := records.Open(ctx, cfg.Source)
	if err != nil {
		return nil, nil, nil, err
	}
	defer src.Close()

	recs, err := src.Records(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read records from %s: %w", cfg.Source, err)
	}

	logging.GetFromContext(ctx).Info("records loaded", "records", len(recs), "schema", schema.Name, "types", labels)

	return mapper.New(schema), recs, labels, nil
}

// buildOperations maps the records of the configured source into a single
// deduplicated list of operations
func buildOperations(ctx context.Context, cfg config.Config, args []string, all bool) ([]ops.Op, error) {
	policy, err := operations.ParsePropertyPolicy(cfg.PropertyPolicy)
	if err != nil {
		return nil, err
	}

	m, recs, labels, err := loadRecords(ctx, cfg, args, all)
	if err != nil {
		return nil, err
	}

	list, err := operations.Build(m, labels, recs)
	if err != nil {
		return nil, err
	}

	deduped := operations.Dedupe(list, policy)

	logging.GetFromContext(ctx).Info("operations built", "operations", len(list), "unique", len(deduped), "property_policy", policy.String())

	return deduped, nil
}

// writeLinks writes one csv row per distinct entity with a link to where it
// can be viewed once published
func writeLinks(w io.Writer, m *mapper.Mapper, labels []string, recs []records.Record, browserURL, spaceID string) error {
	out := csv.NewWriter(w)
	out.Write([]string{"entity_id", "type", "name", "link"})

	seen := map[string]bool{}

	for _, label := range labels {
		et, ok := m.Schema().Type(label)
		if !ok {
			return fmt.Errorf("unknown entity type %q", label)
		}

		for _, r := range recs {
			for _, e := range m.Entities(et, r) {
				if seen[e.ID] {
					continue
				}
				seen[e.ID] = true

				link := fmt.Sprintf("%s/%s/%s", strings.TrimRight(browserURL, "/"), spaceID, e.ID)
				out.Write([]string{e.ID, et.Label, e.Name, link})
			}
		}
	}

	out.Flush()
	return out.Error()
}

func newClient(cfg config.Config) *client.Client {
	return client.NewClient(cfg.APIURL,
		client.Network(cfg.Network),
		client.PublishURL(cfg.PublishURL),
		client.Timeout(cfg.RequestTimeout),
		client.Debug(cfg.Debug),
	)
}

func newTransactor(ctx context.Context, cfg config.Config) (*chain.Transactor, func(), error) {
	policy, err := cfg.GasPolicy()
	if err != nil {
		return nil, nil, err
	}

	backend, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	tx, err := chain.NewTransactor(ctx, backend, cfg.PrivateKey,
		chain.WithChainID(cfg.ChainID),
		chain.WithGasPolicy(policy),
		chain.WithPollInterval(cfg.ConfirmPollInterval),
		chain.WithMaxAttempts(cfg.MaxConfirmAttempts),
		chain.WithExpectedAddress(cfg.WalletAddress),
	)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	return tx, backend.Close, nil
}

// publishBatches checks that the space exists and publishes batches to it,
// one at a time
func publishBatches(ctx context.Context, cfg config.Config, spaceID string, batches [][]ops.Op, startAt int) ([]publisher.Result, error) {
	log := logging.GetFromContext(ctx)

	api := newClient(cfg)

	status, err := api.ProbeSpace(ctx, spaceID)
	switch status {
	case client.SpaceNotFound:
		return nil, grc20errors.NewSpaceNotFoundError(spaceID)
	case client.SpaceUnknown:
		log.Warn("could not check that the space exists, publishing anyway", "space_id", spaceID, "err", err.Error())
	}

	tx, closeBackend, err := newTransactor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeBackend()

	log.Info("publishing", "space_id", spaceID, "batches", len(batches), "account", tx.Address(), "chain_id", tx.ChainID().String())

	progress := publisher.NewProgress()

	options := []publisher.Option{
		publisher.WithInterBatchDelay(cfg.InterBatchDelay),
		publisher.WithReporter(progress),
		publisher.StartAt(startAt),
	}

	if cfg.Checkpoint != "" {
		fingerprint, err := checkpoint.Fingerprint(spaceID, batches)
		if err != nil {
			return nil, err
		}

		cp, err := checkpoint.Open(cfg.Checkpoint, fingerprint)
		if err != nil {
			return nil, err
		}
		defer cp.Close()

		options = append(options, publisher.WithCheckpoint(cp))
	}

	if cfg.ControlAddr != "" {
		shutdown := startControlServer(ctx, cfg.ControlAddr, progress)
		defer shutdown()
	}

	p := publisher.New(publisher.NewSubmitter(api, tx), options...)

	return p.Publish(ctx, spaceID, batches)
}

// startControlServer serves health and progress in the background until the
// returned func is called
func startControlServer(ctx context.Context, addr string, progress *publisher.Progress) func() {
	log := logging.GetFromContext(ctx)

	r := router.New(serviceName, log)
	control.RegisterHandlers(ctx, r, progress)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("control api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("control api failed", "err", err.Error())
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

func printResults(w io.Writer, results []publisher.Result, total int) {
	confirmed, skipped := 0, 0

	for _, r := range results {
		if r.Skipped {
			skipped++
			if r.TxHash == "" {
				fmt.Fprintf(w, "batch %d/%d skipped\n", r.Index+1, total)
				continue
			}
			fmt.Fprintf(w, "batch %d/%d already published in %s (block %d)\n", r.Index+1, total, r.TxHash, r.Block)
			continue
		}

		confirmed++
		fmt.Fprintf(w, "batch %d/%d published in %s (block %d, %s)\n", r.Index+1, total, r.TxHash, r.Block, r.CID)
	}

	fmt.Fprintf(w, "%d published, %d skipped, %d of %d batches done\n", confirmed, skipped, confirmed+skipped, total)
}
