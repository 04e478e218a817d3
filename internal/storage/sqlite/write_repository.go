package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/storage"
)

// ExportRepository implements storage.ExportRepository on SQLite.
type ExportRepository struct {
	db *sql.DB
}

func NewExportRepository(db *sql.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

func (r *ExportRepository) StartRun(run storage.RunRecord) error {
	if run.StartedAt == "" {
		run.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := r.db.Exec(
		`INSERT INTO export_runs (run_id, source, destination, account, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Source, run.Destination, run.Account, storage.RunStatusRunning, run.StartedAt,
	)

	return err
}

// RecordFile stores the outcome of one file. Recording the same file twice
// for a run keeps the latest outcome.
func (r *ExportRepository) RecordFile(file storage.FileRecord) error {
	if file.RecordedAt == "" {
		file.RecordedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := r.db.Exec(`
		INSERT INTO export_files (run_id, remote_path, local_path, status, size, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, remote_path) DO UPDATE SET
			local_path = excluded.local_path,
			status = excluded.status,
			size = excluded.size,
			error = excluded.error,
			recorded_at = excluded.recorded_at
	`, file.RunID, file.RemotePath, file.LocalPath, file.Status, file.Size, file.Error, file.RecordedAt)

	return err
}

// FinishRun stores the final counters of a run.
func (r *ExportRepository) FinishRun(run storage.RunRecord) error {
	if run.FinishedAt == "" {
		run.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}

	res, err := r.db.Exec(`
		UPDATE export_runs SET
			account = ?, status = ?, total = ?, downloaded = ?, skipped = ?, failed = ?, bytes = ?, finished_at = ?, error = ?
		WHERE run_id = ?`,
		run.Account, run.Status, run.Total, run.Downloaded, run.Skipped, run.Failed, run.Bytes, run.FinishedAt, run.Error, run.RunID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrRunNotFound
	}

	return nil
}

// DeleteRunsBefore removes finished runs started before the given time along
// with their files. Runs still in progress are kept.
func (r *ExportRepository) DeleteRunsBefore(before time.Time) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	cutoff := before.UTC().Format(time.RFC3339)

	_, err = tx.Exec(`
		DELETE FROM export_files WHERE run_id IN (
			SELECT run_id FROM export_runs WHERE status != ? AND started_at < ?
		)`, storage.RunStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(`DELETE FROM export_runs WHERE status != ? AND started_at < ?`, storage.RunStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return deleted, tx.Commit()
}
