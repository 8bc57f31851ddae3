package publisher

import (
	"sync"
	"time"
)

type Reporter interface {
	RunStarted(spaceID string, total int)
	BatchStarted(index, operations int)
	BatchSubmitted(index int, txHash string)
	BatchConfirmed(index int, block uint64)
	BatchSkipped(index int)
	BatchFailed(index int, err error)
	RunFinished(err error)
}

type nopReporter struct{}

func (nopReporter) RunStarted(string, int) {}
func (nopReporter) BatchStarted(int, int) {}
func (nopReporter) BatchSubmitted(int, string) {}
func (nopReporter) BatchConfirmed(int, uint64) {}
func (nopReporter) BatchSkipped(int) {}
func (nopReporter) BatchFailed(int, error) {}
func (nopReporter) RunFinished(error) {}

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Snapshot is a point in time copy of the progress of a run
type Snapshot struct {
	State      State     `json:"state"`
	SpaceID    string    `json:"spaceId,omitempty"`
	Total      int       `json:"total"`
	Confirmed  int       `json:"confirmed"`
	Skipped    int       `json:"skipped"`
	Current    int       `json:"current"`
	Operations int       `json:"operations"`
	LastTxHash string    `json:"lastTxHash,omitempty"`
	LastBlock  uint64    `json:"lastBlock,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

// Progress tracks a run and can be read from other goroutines while the
// run is ongoing
type Progress struct {
	mu    sync.Mutex
	state Snapshot
	now   func() time.Time
}

func NewProgress() *Progress {
	return &Progress{
		state: Snapshot{State: StateIdle},
		now:   time.Now,
	}
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Progress) update(f func(s *Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f(&p.state)
	p.state.UpdatedAt = p.now().UTC()
}

func (p *Progress) RunStarted(spaceID string, total int) {
	p.update(func(s *Snapshot) {
		*s = Snapshot{State: StateRunning, SpaceID: spaceID, Total: total, StartedAt: p.now().UTC()}
	})
}

func (p *Progress) BatchStarted(index, operations int) {
	p.update(func(s *Snapshot) {
		s.Current = index + 1
		s.Operations = operations
	})
}

func (p *Progress) BatchSubmitted(index int, txHash string) {
	p.update(func(s *Snapshot) {
		s.LastTxHash = txHash
	})
}

func (p *Progress) BatchConfirmed(index int, block uint64) {
	p.update(func(s *Snapshot) {
		s.Confirmed++
		s.LastBlock = block
	})
}

func (p *Progress) BatchSkipped(index int) {
	p.update(func(s *Snapshot) {
		s.Skipped++
	})
}

func (p *Progress) BatchFailed(index int, err error) {
	p.update(func(s *Snapshot) {
		s.Current = index + 1
		if err != nil {
			s.Error = err.Error()
		}
	})
}

func (p *Progress) RunFinished(err error) {
	p.update(func(s *Snapshot) {
		if err != nil {
			s.State = StateFailed
			s.Error = err.Error()
			return
		}
		s.State = StateDone
	})
}
