package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/logctx"
	"github.com/italolelis/dropbox_exporter/internal/remote"
	"github.com/italolelis/dropbox_exporter/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJournal struct {
	mu       sync.Mutex
	started  []storage.RunRecord
	files    []storage.FileRecord
	finished []storage.RunRecord
}

func (j *fakeJournal) StartRun(run storage.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.started = append(j.started, run)

	return nil
}

func (j *fakeJournal) RecordFile(file storage.FileRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.files = append(j.files, file)

	return nil
}

func (j *fakeJournal) FinishRun(run storage.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.finished = append(j.finished, run)

	return nil
}

func testOptions(concurrency int) Options {
	return Options{Concurrency: concurrency, PollInterval: 10 * time.Millisecond}
}

func TestExporter_Export_EndToEnd(t *testing.T) {
	client := newFakeClient()
	client.addFolder("/src", []remote.Entry{
		folderEntry("/src/one"),
		folderEntry("/src/two"),
		client.addFile("/src/root.txt", "root"),
	})
	client.addFolder("/src/one", []remote.Entry{client.addFile("/src/one/a.txt", "aaaa")})
	client.addFolder("/src/two", []remote.Entry{client.addFile("/src/two/b.txt", "bb")})

	dest := t.TempDir()
	journal := &fakeJournal{}
	run := NewRun("/src", dest)

	err := NewExporter(client, nil, journal, testOptions(2)).Export(context.Background(), run)
	require.NoError(t, err)

	s := run.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Completed)
	assert.Equal(t, 3, s.Downloaded)
	assert.Equal(t, 0, s.Failed)
	assert.Equal(t, int64(10), s.Bytes)
	assert.Equal(t, "Jane Doe", s.Account)
	assert.False(t, s.FinishedAt.IsZero())
	assert.NoError(t, s.Err)

	for path, want := range map[string]string{"root.txt": "root", "one/a.txt": "aaaa", "two/b.txt": "bb"} {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	require.Len(t, journal.started, 1)
	assert.Equal(t, run.ID, journal.started[0].RunID)
	assert.Len(t, journal.files, 3)
	require.Len(t, journal.finished, 1)
	assert.Equal(t, storage.RunStatusFinished, journal.finished[0].Status)
	assert.Equal(t, 3, journal.finished[0].Downloaded)

	// a second run over the same destination skips everything
	rerun := NewRun("/src", dest)
	require.NoError(t, NewExporter(client, nil, nil, testOptions(2)).Export(context.Background(), rerun))
	assert.Equal(t, 3, rerun.Summary().Skipped)
	assert.Equal(t, 3, client.downloadCalls)
}

func TestExporter_Export_BoundsConcurrency(t *testing.T) {
	client := newFakeClient()
	client.downloadDelay = 20 * time.Millisecond

	var entries []remote.Entry
	for i := range 8 {
		entries = append(entries, client.addFile(fmt.Sprintf("/src/%d.bin", i), "payload"))
	}

	client.addFolder("/src", entries)

	run := NewRun("/src", t.TempDir())
	require.NoError(t, NewExporter(client, nil, nil, testOptions(2)).Export(context.Background(), run))

	assert.Equal(t, 8, run.Completed())
	assert.LessOrEqual(t, client.maxActive.Load(), int32(2))
	assert.Equal(t, int32(2), client.maxActive.Load())
}

func TestExporter_Export_CollectsFailures(t *testing.T) {
	client := newFakeClient()
	client.addFolder("/src", []remote.Entry{
		client.addFile("/src/ok.txt", "ok"),
		fileEntry("/src/missing.txt", 4),
	})

	run := NewRun("/src", t.TempDir())
	require.NoError(t, NewExporter(client, nil, nil, testOptions(4)).Export(context.Background(), run))

	s := run.Summary()
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Downloaded)
	assert.Equal(t, 1, s.Failed)

	failures := run.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "/src/missing.txt", failures[0].Job.Entry.PathLower)
	assert.Error(t, failures[0].Err)
}

func TestExporter_Export_EnumerationFailure(t *testing.T) {
	client := newFakeClient()
	journal := &fakeJournal{}

	run := NewRun("/does-not-exist", t.TempDir())
	err := NewExporter(client, nil, journal, testOptions(2)).Export(context.Background(), run)

	require.Error(t, err)
	assert.Equal(t, 0, run.Total())
	assert.Error(t, run.Summary().Err)

	require.Len(t, journal.finished, 1)
	assert.Equal(t, storage.RunStatusFailed, journal.finished[0].Status)
	assert.NotEmpty(t, journal.finished[0].Error)
}

func TestExporter_Export_AnonymousAccount(t *testing.T) {
	client := newFakeClient()
	client.expireAccount = 5
	client.addFolder("/src", nil)

	run := NewRun("/src", t.TempDir())
	require.NoError(t, NewExporter(client, nil, nil, testOptions(1)).Export(context.Background(), run))

	assert.Equal(t, "anonymous", run.Summary().Account)
}

func TestExporter_Export_EmptyTree(t *testing.T) {
	client := newFakeClient()
	client.addFolder("/src", []remote.Entry{folderEntry("/src/empty")})
	client.addFolder("/src/empty", nil)

	run := NewRun("/src", t.TempDir())
	require.NoError(t, NewExporter(client, nil, nil, testOptions(1)).Export(context.Background(), run))

	assert.Equal(t, 0, run.Total())
	assert.Empty(t, run.Outcomes())
}

func TestExporter_Export_Cancelled(t *testing.T) {
	client := newFakeClient()
	client.addFolder("/src", []remote.Entry{client.addFile("/src/a.txt", "a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := NewRun("/src", t.TempDir())
	err := NewExporter(client, nil, nil, testOptions(1)).Export(ctx, run)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()

	assert.Equal(t, DefaultConcurrency, opts.Concurrency)
	assert.Equal(t, DefaultPollInterval, opts.PollInterval)
	assert.Equal(t, remote.DefaultRefreshBudget, opts.refreshBudget())

	negative, zero := -1, 0
	assert.Equal(t, remote.DefaultRefreshBudget, Options{RefreshBudget: &negative}.refreshBudget())
	assert.Equal(t, 0, Options{RefreshBudget: &zero}.refreshBudget())
}

func TestExporter_Export_ZeroOptionsRefreshOnce(t *testing.T) {
	client := newFakeClient()
	client.expireList = 1
	client.expireDownload = 1
	client.addFolder("/src", []remote.Entry{client.addFile("/src/a.txt", "abc")})

	run := NewRun("/src", t.TempDir())
	require.NoError(t, NewExporter(client, nil, nil, Options{}).Export(context.Background(), run))

	assert.Equal(t, 1, run.Summary().Downloaded)
	assert.Equal(t, 2, client.refreshCalls)
}

func TestExporter_Export_RefreshDisabled(t *testing.T) {
	client := newFakeClient()
	client.expireList = 1
	client.addFolder("/src", []remote.Entry{client.addFile("/src/a.txt", "abc")})

	zero := 0
	run := NewRun("/src", t.TempDir())
	err := NewExporter(client, nil, nil, Options{RefreshBudget: &zero}).Export(context.Background(), run)

	require.Error(t, err)
	assert.ErrorAs(t, err, new(*remote.AuthExhaustedError))
	assert.Equal(t, 0, client.refreshCalls)
}

// syncBuffer is a bytes.Buffer safe for a logger writing from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

// progressLines returns the completed/total pairs of every "export progress" record.
func (b *syncBuffer) progressLines(t *testing.T) [][2]int {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	var lines [][2]int

	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var rec struct {
			Msg       string `json:"msg"`
			Completed int    `json:"completed"`
			Total     int    `json:"total"`
		}
		require.NoError(t, dec.Decode(&rec))

		if rec.Msg == "export progress" {
			lines = append(lines, [2]int{rec.Completed, rec.Total})
		}
	}

	return lines
}

func pollingContext(buf *syncBuffer) context.Context {
	return logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(buf, nil)))
}

func TestExporter_PollCompletion_StopsWhenAllCompleted(t *testing.T) {
	buf := &syncBuffer{}
	run := NewRun("/src", t.TempDir())
	run.setJobs(2)
	run.record(0, Outcome{Status: StatusDownloaded})
	run.record(1, Outcome{Status: StatusSkipped})

	e := NewExporter(newFakeClient(), nil, nil, Options{PollInterval: time.Millisecond})

	// done is never closed: the loop has to end on its own
	returned := make(chan struct{})
	go func() {
		e.pollCompletion(pollingContext(buf), run, make(chan struct{}))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("pollCompletion kept polling a completed run")
	}

	assert.Equal(t, [][2]int{{2, 2}}, buf.progressLines(t))
}

func TestExporter_PollCompletion_ReportsPeriodically(t *testing.T) {
	buf := &syncBuffer{}
	run := NewRun("/src", t.TempDir())
	run.setJobs(2)
	run.record(0, Outcome{Status: StatusDownloaded})

	e := NewExporter(newFakeClient(), nil, nil, Options{PollInterval: 5 * time.Millisecond})

	returned := make(chan struct{})
	go func() {
		e.pollCompletion(pollingContext(buf), run, make(chan struct{}))
		close(returned)
	}()

	require.Eventually(t, func() bool {
		return len(buf.progressLines(t)) >= 2
	}, time.Second, time.Millisecond)

	run.record(1, Outcome{Status: StatusFailed})

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("pollCompletion did not stop after the last job completed")
	}

	lines := buf.progressLines(t)
	assert.Equal(t, [2]int{1, 2}, lines[0])
	assert.Equal(t, [2]int{2, 2}, lines[len(lines)-1])
}
