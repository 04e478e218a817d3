package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dropbox_exporter/internal/downloader/progress"
	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/remote"
	"github.com/italolelis/dropbox_exporter/internal/telemetry"
)

const (
	dirPerm = 0755
)

// Task downloads a single file. A Task is stateless and shared by all workers.
type Task struct {
	client        remote.Client
	tracker       *progress.Tracker
	telemetry     *telemetry.Telemetry
	refreshBudget int
}

func NewTask(client remote.Client, tracker *progress.Tracker, tel *telemetry.Telemetry, refreshBudget int) *Task {
	if tracker == nil {
		tracker = progress.NewTracker(progress.DefaultThreshold)
	}

	return &Task{
		client:        client,
		tracker:       tracker,
		telemetry:     tel,
		refreshBudget: refreshBudget,
	}
}

// Run downloads job.Entry to job.Destination. It never returns an error: any
// failure is logged and reported through the outcome.
func (t *Task) Run(ctx context.Context, job Job) Outcome {
	ctx = logctx.With(ctx, "file_path", job.Entry.PathLower)
	logger := logctx.LoggerFromContext(ctx)

	start := time.Now()
	outcome := Outcome{Job: job}

	err := t.telemetry.InstrumentDownload(ctx, job.Entry.PathLower, func(ctx context.Context) (string, error) {
		written, skipped, err := t.download(ctx, job)
		outcome.Bytes = written

		if skipped {
			outcome.Status = StatusSkipped
		} else {
			outcome.Status = StatusDownloaded
		}

		return string(outcome.Status), err
	})

	outcome.Duration = time.Since(start)

	if err != nil {
		logger.ErrorContext(ctx, "failed to download file", "target", job.Destination, "err", err)

		outcome.Status = StatusFailed
		outcome.Err = err
	}

	return outcome
}

func (t *Task) download(ctx context.Context, job Job) (int64, bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := t.ensureTargetDir(job.Destination, logger); err != nil {
		return 0, false, err
	}

	if t.alreadyDownloaded(job) {
		logger.InfoContext(ctx, "file already seems to be downloaded, skipping", "target", job.Destination)

		t.telemetry.RecordDownloadProgress(job.Entry.PathLower, 100, job.Entry.Size)

		return 0, true, nil
	}

	var body io.ReadCloser

	err := remote.WithRefresh(ctx, t.client, t.refreshBudget, "download", func(ctx context.Context) error {
		var err error

		body, err = t.client.Download(ctx, job.Entry.PathLower)

		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to open download: %w", err)
	}
	defer body.Close()

	out, err := os.Create(job.Destination)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create target file: %w", err)
	}

	written, err := t.writeFile(ctx, out, body, job)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close target file: %w", cerr)
	}

	if err != nil {
		return written, false, err
	}

	if written != job.Entry.Size {
		logger.WarnContext(ctx, "downloaded size differs from listed size, file changed remotely?",
			"expected", job.Entry.Size, "written", written)
	}

	logger.InfoContext(ctx, "downloaded and saved file", "target", job.Destination, "size", humanize.Bytes(uint64(written)))

	return written, false, nil
}

// alreadyDownloaded implements the resume policy: a regular file at the
// destination whose length equals the remote size is considered complete.
// Content is not compared.
func (t *Task) alreadyDownloaded(job Job) bool {
	info, err := os.Stat(job.Destination)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular() && info.Size() == job.Entry.Size
}

func (t *Task) ensureTargetDir(targetPath string, logger *slog.Logger) error {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		logger.Error("failed to create target directory", "dir", dir, "err", err)

		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return nil
}

func (t *Task) writeFile(ctx context.Context, out io.Writer, body io.Reader, job Job) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	path := job.Entry.PathLower

	logger.InfoContext(ctx, "downloading file", "target", job.Destination, "file_size", humanize.Bytes(uint64(job.Entry.Size)))

	defer t.tracker.Forget(path)

	pr := progress.NewReader(body, path, job.Entry.Size, t.tracker, func(r progress.Report) {
		logger.InfoContext(ctx, "download progress",
			"percent", r.Percentage,
			"downloaded", humanize.Bytes(uint64(r.Written)),
			"total", humanize.Bytes(uint64(r.Size)),
			"speed", humanize.Bytes(uint64(r.Throughput))+"/s")

		t.telemetry.RecordDownloadProgress(path, r.Percentage, r.Written)
	})

	written, err := io.Copy(out, pr)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return written, fmt.Errorf("download interrupted: %w", err)
		}

		return written, fmt.Errorf("failed to copy file: %w", err)
	}

	t.telemetry.RecordDownloadProgress(path, progress.Percentage(job.Entry.Size, written), written)

	return written, nil
}
