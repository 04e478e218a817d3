package progress

import (
	"io"
	"time"
)

// Reader wraps an io.Reader and feeds every read into a Tracker, calling
// onReport for the observations the tracker lets through.
type Reader struct {
	reader   io.Reader
	path     string
	size     int64
	tracker  *Tracker
	onReport func(Report)

	written int64
	start   time.Time
	now     func() time.Time
}

func NewReader(r io.Reader, path string, size int64, tracker *Tracker, onReport func(Report)) *Reader {
	return &Reader{
		reader:   r,
		path:     path,
		size:     size,
		tracker:  tracker,
		onReport: onReport,
		start:    time.Now(),
		now:      time.Now,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.written += int64(n)

		if report, ok := pr.tracker.Observe(pr.path, pr.size, pr.written); ok && pr.onReport != nil {
			if elapsed := pr.now().Sub(pr.start).Seconds(); elapsed > 0 {
				report.Throughput = float64(pr.written) / elapsed
			}

			pr.onReport(report)
		}
	}

	return n, err
}

// Written returns the number of bytes read so far.
func (pr *Reader) Written() int64 {
	return pr.written
}
