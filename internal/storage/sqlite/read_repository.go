package sqlite

import (
	"database/sql"
	"errors"

	"github.com/italolelis/dropbox_exporter/internal/storage"
)

const runColumns = `run_id, source, destination, account, status, total, downloaded, skipped, failed, bytes, started_at, finished_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (storage.RunRecord, error) {
	var (
		record     storage.RunRecord
		account    sql.NullString
		finishedAt sql.NullString
		runErr     sql.NullString
	)

	err := row.Scan(
		&record.RunID, &record.Source, &record.Destination, &account, &record.Status,
		&record.Total, &record.Downloaded, &record.Skipped, &record.Failed, &record.Bytes,
		&record.StartedAt, &finishedAt, &runErr,
	)
	if err != nil {
		return record, err
	}

	record.Account = account.String
	record.FinishedAt = finishedAt.String
	record.Error = runErr.String

	return record, nil
}

// GetRuns returns the most recent runs first, up to limit.
func (r *ExportRepository) GetRuns(limit int) ([]storage.RunRecord, error) {
	rows, err := r.db.Query(`SELECT `+runColumns+` FROM export_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.RunRecord

	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, record)
	}

	return runs, rows.Err()
}

func (r *ExportRepository) GetRun(runID string) (storage.RunRecord, error) {
	record, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM export_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return record, storage.ErrRunNotFound
	}

	return record, err
}

// GetFiles returns the journaled files of a run ordered by remote path.
func (r *ExportRepository) GetFiles(runID string) ([]storage.FileRecord, error) {
	rows, err := r.db.Query(
		`SELECT 
			run_id, 
			remote_path, 
			local_path, 
			status, 
			size, 
			error, 
			recorded_at 
		FROM export_files
		WHERE run_id = ?
		ORDER BY remote_path`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []storage.FileRecord

	for rows.Next() {
		var (
			record storage.FileRecord
			errMsg sql.NullString
		)

		if err := rows.Scan(&record.RunID, &record.RemotePath, &record.LocalPath, &record.Status, &record.Size, &errMsg, &record.RecordedAt); err != nil {
			return nil, err
		}

		record.Error = errMsg.String
		files = append(files, record)
	}

	return files, rows.Err()
}
