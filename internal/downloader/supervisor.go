package downloader

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
)

// State is the lifecycle state of a supervised export.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Runner executes one export run.
type Runner interface {
	Export(ctx context.Context, run *Run) error
}

// Status is a snapshot of a supervised export.
type Status struct {
	State       State      `json:"state"`
	RunID       string     `json:"run_id"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Account     string     `json:"account,omitempty"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Succeeded   int        `json:"succeeded"`
	Downloaded  int        `json:"downloaded"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
	Bytes       int64      `json:"bytes"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Supervisor runs a single export in the background and keeps its outcome,
// including panics, observable after the fact.
type Supervisor struct {
	runner Runner
	run    *Run

	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	state State
	err   error
}

func NewSupervisor(runner Runner, run *Run) *Supervisor {
	return &Supervisor{
		runner: runner,
		run:    run,
		done:   make(chan struct{}),
		state:  StatePending,
	}
}

// Start launches the export. Subsequent calls are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	s.once.Do(func() {
		s.setState(StateRunning, nil)

		go s.supervise(ctx)
	})
}

func (s *Supervisor) supervise(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	var err error

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("export panicked: %v", r)

			logger.ErrorContext(ctx, "export panicked", "run_id", s.run.ID, "panic", r, "stack", string(debug.Stack()))
		}

		if err != nil {
			s.setState(StateFailed, err)
		} else {
			s.setState(StateFinished, nil)
		}

		close(s.done)
	}()

	err = s.runner.Export(ctx, s.run)
}

func (s *Supervisor) setState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	s.err = err
}

// Done is closed once the export returned or panicked.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the export error once done.
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// Run returns the supervised run.
func (s *Supervisor) Run() *Run {
	return s.run
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	state, err := s.state, s.err
	s.mu.RUnlock()

	sum := s.run.Summary()

	st := Status{
		State:       state,
		RunID:       sum.RunID,
		Source:      sum.Source,
		Destination: sum.Destination,
		Account:     sum.Account,
		Total:       sum.Total,
		Completed:   sum.Completed,
		Succeeded:   sum.Downloaded + sum.Skipped,
		Downloaded:  sum.Downloaded,
		Skipped:     sum.Skipped,
		Failed:      sum.Failed,
		Bytes:       sum.Bytes,
	}

	if !sum.StartedAt.IsZero() {
		st.StartedAt = &sum.StartedAt
	}

	if !sum.FinishedAt.IsZero() {
		st.FinishedAt = &sum.FinishedAt
	}

	if err != nil {
		st.Error = err.Error()
	}

	return st
}
