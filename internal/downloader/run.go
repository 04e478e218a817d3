package downloader

import (
	"sync"
	"sync/atomic"
	"time"
)

// JobStatus is the terminal state of a single job.
type JobStatus string

const (
	StatusDownloaded JobStatus = "downloaded"
	StatusSkipped    JobStatus = "skipped"
	StatusFailed     JobStatus = "failed"
)

// Outcome is the result of running one job.
type Outcome struct {
	Job      Job
	Status   JobStatus
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the destination holds the complete file.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusDownloaded || o.Status == StatusSkipped
}

// Run holds the state of one export. Counters may be read at any time while
// workers record outcomes; the outcome slice is only read once the run finished.
type Run struct {
	ID          string
	Source      string
	Destination string

	total      atomic.Int64
	completed  atomic.Int64
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64

	// each index is written by exactly one worker
	outcomes []Outcome

	mu         sync.RWMutex
	account    string
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

func NewRun(source, destination string) *Run {
	return &Run{
		ID:          NewRunID(),
		Source:      source,
		Destination: destination,
	}
}

func (r *Run) start(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.startedAt = now
}

func (r *Run) setAccount(account string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.account = account
}

func (r *Run) setJobs(n int) {
	r.outcomes = make([]Outcome, n)
	r.total.Store(int64(n))
}

func (r *Run) record(i int, o Outcome) {
	r.outcomes[i] = o

	switch o.Status {
	case StatusDownloaded:
		r.downloaded.Add(1)
		r.bytes.Add(o.Bytes)
	case StatusSkipped:
		r.skipped.Add(1)
	default:
		r.failed.Add(1)
	}

	r.completed.Add(1)
}

func (r *Run) finish(now time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finishedAt = now
	r.err = err
}

// Total is the number of jobs of the run, zero until enumeration finished.
func (r *Run) Total() int {
	return int(r.total.Load())
}

// Completed is the number of jobs that reached a terminal state.
func (r *Run) Completed() int {
	return int(r.completed.Load())
}

// Outcomes returns a copy of the per-job outcomes. Only complete once the run finished.
func (r *Run) Outcomes() []Outcome {
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)

	return out
}

// Failures returns the outcomes of the jobs that failed.
func (r *Run) Failures() []Outcome {
	var failed []Outcome

	for _, o := range r.Outcomes() {
		if o.Status == StatusFailed {
			failed = append(failed, o)
		}
	}

	return failed
}

// Summary is a point-in-time snapshot of a run.
type Summary struct {
	RunID       string
	Source      string
	Destination string
	Account     string
	Total       int
	Completed   int
	Downloaded  int
	Skipped     int
	Failed      int
	Bytes       int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

func (r *Run) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Summary{
		RunID:       r.ID,
		Source:      r.Source,
		Destination: r.Destination,
		Account:     r.account,
		Total:       int(r.total.Load()),
		Completed:   int(r.completed.Load()),
		Downloaded:  int(r.downloaded.Load()),
		Skipped:     int(r.skipped.Load()),
		Failed:      int(r.failed.Load()),
		Bytes:       r.bytes.Load(),
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		Err:         r.err,
	}
}
