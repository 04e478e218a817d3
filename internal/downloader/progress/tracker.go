// Package progress turns a stream of byte offsets into throttled progress reports.
package progress

import "sync"

// DefaultThreshold is the minimum percentage-point delta between two reports of the same file.
const DefaultThreshold = 5

// Report is a single progress observation.
type Report struct {
	Path       string
	Size       int64
	Written    int64
	Percentage int
	// Throughput is bytes per second since the download started, zero when unknown.
	Throughput float64
}

// Tracker remembers the last reported percentage per path and only lets a new
// report through once it moved by at least the threshold. It is safe for
// concurrent use by many downloads.
type Tracker struct {
	threshold int

	mu   sync.Mutex
	last map[string]int
}

func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	return &Tracker{
		threshold: threshold,
		last:      make(map[string]int),
	}
}

// Observe computes the progress of path and reports whether it should be emitted.
// A zero-sized file is complete as soon as it is observed.
func (t *Tracker) Observe(path string, size, written int64) (Report, bool) {
	r := Report{
		Path:       path,
		Size:       size,
		Written:    written,
		Percentage: Percentage(size, written),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Percentage-t.last[path] < t.threshold {
		return r, false
	}

	t.last[path] = r.Percentage

	return r, true
}

// Forget drops the state kept for path.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.last, path)
}

// Percentage returns written as an integer percentage of size, capped at 100.
func Percentage(size, written int64) int {
	if size <= 0 {
		return 100
	}

	pct := written * 100 / size
	if pct > 100 {
		return 100
	}

	return int(pct)
}
