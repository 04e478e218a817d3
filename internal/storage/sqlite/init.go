package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite journal at path and creates its tables if they don't exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// workers journal files concurrently; sqlite allows a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS export_runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT UNIQUE,
		source TEXT,
		destination TEXT,
		account TEXT,
		status TEXT DEFAULT 'running',
		total INTEGER DEFAULT 0,
		downloaded INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		started_at TEXT,
		finished_at TEXT,
		error TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create export_runs table: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS export_files (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		remote_path TEXT,
		local_path TEXT,
		status TEXT,
		size INTEGER,
		error TEXT,
		recorded_at TEXT,
		UNIQUE(run_id, remote_path)
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create export_files table: %w", err)
	}

	return db, nil
}
