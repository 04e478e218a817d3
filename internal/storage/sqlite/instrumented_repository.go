package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/dropbox_exporter/internal/storage"
	"github.com/italolelis/dropbox_exporter/internal/telemetry"
)

// InstrumentedExportRepository wraps ExportRepository with telemetry.
type InstrumentedExportRepository struct {
	repo      *ExportRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedExportRepository creates a new instrumented export repository.
func NewInstrumentedExportRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedExportRepository {
	return &InstrumentedExportRepository{
		repo:      NewExportRepository(dbConn),
		telemetry: tel,
	}
}

// StartRun journals a new run with telemetry.
func (r *InstrumentedExportRepository) StartRun(run storage.RunRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "start_run", func(ctx context.Context) error {
		return r.repo.StartRun(run)
	})
}

// RecordFile journals a file outcome with telemetry.
func (r *InstrumentedExportRepository) RecordFile(file storage.FileRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "record_file", func(ctx context.Context) error {
		return r.repo.RecordFile(file)
	})
}

// FinishRun journals the final counters of a run with telemetry.
func (r *InstrumentedExportRepository) FinishRun(run storage.RunRecord) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "finish_run", func(ctx context.Context) error {
		return r.repo.FinishRun(run)
	})
}

// GetRuns retrieves recent runs with telemetry.
func (r *InstrumentedExportRepository) GetRuns(limit int) ([]storage.RunRecord, error) {
	var result []storage.RunRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_runs", func(ctx context.Context) error {
		result, err = r.repo.GetRuns(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// GetRun retrieves a single run with telemetry.
func (r *InstrumentedExportRepository) GetRun(runID string) (storage.RunRecord, error) {
	var result storage.RunRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_run", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetRun(runID)

		return err
	})

	return result, err
}

// GetFiles retrieves the files of a run with telemetry.
func (r *InstrumentedExportRepository) GetFiles(runID string) ([]storage.FileRecord, error) {
	var result []storage.FileRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_files", func(ctx context.Context) error {
		result, err = r.repo.GetFiles(runID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// DeleteRunsBefore prunes old runs with telemetry.
func (r *InstrumentedExportRepository) DeleteRunsBefore(before time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(context.Background(), "delete_runs", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.DeleteRunsBefore(before)

		return err
	})

	return deleted, err
}
