package storage

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is unknown to the journal.
var ErrRunNotFound = errors.New("storage: export run not found")

const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// RunRecord is the journal entry of one export run.
type RunRecord struct {
	RunID       string
	Source      string
	Destination string
	Account     string
	Status      string
	Total       int
	Downloaded  int
	Skipped     int
	Failed      int
	Bytes       int64
	StartedAt   string
	FinishedAt  string
	Error       string
}

// FileRecord is the journal entry of one file of a run.
type FileRecord struct {
	RunID      string
	RemotePath string
	LocalPath  string
	Status     string
	Size       int64
	Error      string
	RecordedAt string
}

// ExportReadRepository reads the export journal.
type ExportReadRepository interface {
	GetRuns(limit int) ([]RunRecord, error)
	GetRun(runID string) (RunRecord, error)
	GetFiles(runID string) ([]FileRecord, error)
}

// ExportWriteRepository writes the export journal. The journal is an audit
// trail only, it is never consulted to decide whether a file is downloaded.
type ExportWriteRepository interface {
	StartRun(run RunRecord) error
	RecordFile(file FileRecord) error
	FinishRun(run RunRecord) error
}

// ExportPruner removes old journal entries.
type ExportPruner interface {
	DeleteRunsBefore(before time.Time) (int64, error)
}

type ExportRepository interface {
	ExportReadRepository
	ExportWriteRepository
	ExportPruner
}
