package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/dropbox_exporter/internal/downloader/progress"
	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/remote"
	"github.com/italolelis/dropbox_exporter/internal/storage"
	"github.com/italolelis/dropbox_exporter/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency  = 4
	DefaultPollInterval = 5 * time.Second

	anonymousAccount = "anonymous"
)

// Options tunes an Exporter. Zero values fall back to the defaults. A nil
// RefreshBudget means remote.DefaultRefreshBudget; point it at 0 to disable
// credential refresh.
type Options struct {
	Concurrency   int
	PollInterval  time.Duration
	JobTimeout    time.Duration
	RefreshBudget *int
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}

	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}

	return o
}

func (o Options) refreshBudget() int {
	if o.RefreshBudget == nil || *o.RefreshBudget < 0 {
		return remote.DefaultRefreshBudget
	}

	return *o.RefreshBudget
}

// Exporter copies a remote folder tree to local disk.
type Exporter struct {
	client     remote.Client
	enumerator *Enumerator
	task       *Task
	telemetry  *telemetry.Telemetry
	journal    storage.ExportWriteRepository
	opts       Options
}

// NewExporter creates an exporter. journal may be nil, in which case runs are
// not journaled.
func NewExporter(client remote.Client, tel *telemetry.Telemetry, journal storage.ExportWriteRepository, opts Options) *Exporter {
	opts = opts.withDefaults()

	return &Exporter{
		client:     client,
		enumerator: NewEnumerator(client, opts.refreshBudget()),
		task:       NewTask(client, progress.NewTracker(progress.DefaultThreshold), tel, opts.refreshBudget()),
		telemetry:  tel,
		journal:    journal,
		opts:       opts,
	}
}

// Export runs the export described by run and blocks until every file reached
// a terminal state. Individual file failures are reported through the run
// outcomes; only enumeration failures and cancellation are returned.
func (e *Exporter) Export(ctx context.Context, run *Run) (err error) {
	run.start(time.Now())

	ctx = logctx.With(ctx, "run_id", run.ID)
	logger := logctx.LoggerFromContext(ctx)

	account := e.resolveAccount(ctx)
	run.setAccount(account)

	logger.InfoContext(ctx, "starting export",
		"account", account, "source", run.Source, "destination", run.Destination, "concurrency", e.opts.Concurrency)

	e.journalStart(ctx, run)

	defer func() {
		run.finish(time.Now(), err)
		e.journalFinish(ctx, run)
	}()

	files, err := e.enumerator.ListFiles(ctx, run.Source)
	if err != nil {
		logger.ErrorContext(ctx, "failed to enumerate remote folder", "source", run.Source, "err", err)
		e.telemetry.RecordSystemError("downloader", "enumeration")

		return fmt.Errorf("failed to enumerate %s: %w", run.Source, err)
	}

	jobs, invalid := NewJobs(files, run.Source, run.Destination)

	run.setJobs(len(jobs))
	e.telemetry.RecordFilesToLoad(len(jobs))

	logger.InfoContext(ctx, "files to download", "count", len(jobs))

	done := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.pollCompletion(ctx, run, done)
	}()

	e.runJobs(ctx, run, jobs, invalid)

	close(done)
	wg.Wait()

	e.telemetry.RecordFilesLoaded(run.Completed())

	s := run.Summary()
	logger.InfoContext(ctx, "export finished",
		"total", s.Total,
		"downloaded", s.Downloaded,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"size", humanize.Bytes(uint64(s.Bytes)),
		"duration", time.Since(s.StartedAt).Round(time.Millisecond).String())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("export interrupted: %w", err)
	}

	return nil
}

func (e *Exporter) runJobs(ctx context.Context, run *Run, jobs []Job, invalid map[int]error) {
	var g errgroup.Group

	g.SetLimit(e.opts.Concurrency)

	for i, job := range jobs {
		if err, ok := invalid[i]; ok {
			e.complete(ctx, run, i, Outcome{Job: job, Status: StatusFailed, Err: err})

			continue
		}

		// Go blocks while every worker is busy
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				e.complete(ctx, run, i, Outcome{Job: job, Status: StatusFailed, Err: err})

				return nil
			}

			jobCtx := ctx

			if e.opts.JobTimeout > 0 {
				var cancel context.CancelFunc

				jobCtx, cancel = context.WithTimeout(ctx, e.opts.JobTimeout)
				defer cancel()
			}

			e.complete(ctx, run, i, e.task.Run(jobCtx, job))

			return nil
		})
	}

	// workers never return errors, outcomes carry them
	_ = g.Wait()
}

func (e *Exporter) complete(ctx context.Context, run *Run, i int, o Outcome) {
	run.record(i, o)

	if e.journal == nil {
		return
	}

	record := storage.FileRecord{
		RunID:      run.ID,
		RemotePath: o.Job.Entry.PathLower,
		LocalPath:  o.Job.Destination,
		Status:     string(o.Status),
		Size:       o.Job.Entry.Size,
	}
	if o.Err != nil {
		record.Error = o.Err.Error()
	}

	if err := e.journal.RecordFile(record); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal file outcome", "file_path", record.RemotePath, "err", err)
	}
}

// pollCompletion logs progress every poll interval until all jobs completed or
// done is closed.
func (e *Exporter) pollCompletion(ctx context.Context, run *Run, done <-chan struct{}) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		completed, total := run.Completed(), run.Total()

		logger.InfoContext(ctx, "export progress", "completed", completed, "total", total)
		e.telemetry.RecordFilesLoaded(completed)

		if completed >= total {
			return
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Exporter) resolveAccount(ctx context.Context) string {
	var name string

	err := remote.WithRefresh(ctx, e.client, e.opts.refreshBudget(), "get_current_account", func(ctx context.Context) error {
		var err error

		name, err = e.client.CurrentAccountDisplayName(ctx)

		return err
	})
	if err != nil || name == "" {
		if err != nil && !errors.Is(err, context.Canceled) {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to resolve account name", "err", err)
		}

		return anonymousAccount
	}

	return name
}

func (e *Exporter) journalStart(ctx context.Context, run *Run) {
	if e.journal == nil {
		return
	}

	s := run.Summary()

	err := e.journal.StartRun(storage.RunRecord{
		RunID:       s.RunID,
		Source:      s.Source,
		Destination: s.Destination,
		Account:     s.Account,
		StartedAt:   s.StartedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal export start", "err", err)
	}
}

func (e *Exporter) journalFinish(ctx context.Context, run *Run) {
	if e.journal == nil {
		return
	}

	s := run.Summary()

	record := storage.RunRecord{
		RunID:      s.RunID,
		Account:    s.Account,
		Status:     storage.RunStatusFinished,
		Total:      s.Total,
		Downloaded: s.Downloaded,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
		Bytes:      s.Bytes,
		FinishedAt: s.FinishedAt.UTC().Format(time.RFC3339),
	}

	if s.Err != nil {
		record.Status = storage.RunStatusFailed
		record.Error = s.Err.Error()
	}

	if err := e.journal.FinishRun(record); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to journal export finish", "err", err)
	}
}
