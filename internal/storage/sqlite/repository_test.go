package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/storage"
	"github.com/italolelis/dropbox_exporter/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *InstrumentedExportRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "exports.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewInstrumentedExportRepository(db, &telemetry.Telemetry{})
}

func TestExportRepository_RunLifecycle(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.StartRun(storage.RunRecord{RunID: "run-1", Source: "/photos", Destination: "/out"}))

	run, err := repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusRunning, run.Status)
	assert.NotEmpty(t, run.StartedAt)
	assert.Empty(t, run.FinishedAt)

	require.NoError(t, repo.FinishRun(storage.RunRecord{
		RunID:      "run-1",
		Account:    "Jane Doe",
		Status:     storage.RunStatusFinished,
		Total:      3,
		Downloaded: 2,
		Skipped:    1,
		Bytes:      2048,
	}))

	run, err = repo.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusFinished, run.Status)
	assert.Equal(t, "Jane Doe", run.Account)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 2, run.Downloaded)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, int64(2048), run.Bytes)
	assert.NotEmpty(t, run.FinishedAt)
}

func TestExportRepository_FinishUnknownRun(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.FinishRun(storage.RunRecord{RunID: "missing", Status: storage.RunStatusFailed})
	assert.ErrorIs(t, err, storage.ErrRunNotFound)

	_, err = repo.GetRun("missing")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
}

func TestExportRepository_RecordFileKeepsLatestOutcome(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.StartRun(storage.RunRecord{RunID: "run-1"}))
	require.NoError(t, repo.RecordFile(storage.FileRecord{RunID: "run-1", RemotePath: "/b.txt", LocalPath: "/out/b.txt", Status: "failed", Error: "boom"}))
	require.NoError(t, repo.RecordFile(storage.FileRecord{RunID: "run-1", RemotePath: "/a.txt", LocalPath: "/out/a.txt", Status: "downloaded", Size: 10}))
	require.NoError(t, repo.RecordFile(storage.FileRecord{RunID: "run-1", RemotePath: "/b.txt", LocalPath: "/out/b.txt", Status: "downloaded", Size: 5}))
	require.NoError(t, repo.RecordFile(storage.FileRecord{RunID: "run-2", RemotePath: "/c.txt", Status: "skipped"}))

	files, err := repo.GetFiles("run-1")
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "/a.txt", files[0].RemotePath)
	assert.Equal(t, "/b.txt", files[1].RemotePath)
	assert.Equal(t, "downloaded", files[1].Status)
	assert.Empty(t, files[1].Error)
	assert.Equal(t, int64(5), files[1].Size)
}

func TestExportRepository_GetRunsNewestFirst(t *testing.T) {
	repo := newTestRepository(t)

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, repo.StartRun(storage.RunRecord{RunID: id}))
	}

	runs, err := repo.GetRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, "run-2", runs[1].RunID)
}

func TestExportRepository_DeleteRunsBefore(t *testing.T) {
	repo := newTestRepository(t)

	old := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	recent := time.Now().UTC().Format(time.RFC3339)

	require.NoError(t, repo.StartRun(storage.RunRecord{RunID: "old-finished", StartedAt: old}))
	require.NoError(t, repo.FinishRun(storage.RunRecord{RunID: "old-finished", Status: storage.RunStatusFinished}))
	require.NoError(t, repo.RecordFile(storage.FileRecord{RunID: "old-finished", RemotePath: "/a.txt", Status: "downloaded"}))

	require.NoError(t, repo.StartRun(storage.RunRecord{RunID: "old-running", StartedAt: old}))
	require.NoError(t, repo.StartRun(storage.RunRecord{RunID: "recent", StartedAt: recent}))
	require.NoError(t, repo.FinishRun(storage.RunRecord{RunID: "recent", Status: storage.RunStatusFinished}))

	deleted, err := repo.DeleteRunsBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetRun("old-finished")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)

	files, err := repo.GetFiles("old-finished")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = repo.GetRun("old-running")
	assert.NoError(t, err)

	_, err = repo.GetRun("recent")
	assert.NoError(t, err)
}
