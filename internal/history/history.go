// Package history keeps a durable record of finished jobs in a local SQLite
// database. Live job state stays in the orchestrator registry; only terminal
// snapshots land here.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/depotgrab/depotgrab/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	app_id       TEXT NOT NULL,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	depot_count  INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	results      TEXT NOT NULL DEFAULT '[]',
	created_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_app ON jobs(app_id);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished_at);
`

// Entry is one stored job record.
type Entry struct {
	JobID        string    `json:"jobId"`
	AppID        string    `json:"appId"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	DepotCount   int       `json:"depotCount"`
	SuccessCount int       `json:"successCount"`
	CreatedAt    time.Time `json:"createdAt"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// Store is the history database handle.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the history database location under the state dir.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "history.db")
}

// Open creates or opens the database and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// The driver is in-process; one connection avoids writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordJob stores a terminal job snapshot. Re-recording the same job ID
// overwrites the earlier row.
func (s *Store) RecordJob(snap orchestrator.JobSnapshot) error {
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	successes := 0
	for _, r := range snap.Results {
		if r.Success {
			successes++
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (job_id, app_id, status, error, depot_count, success_count, results, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			depot_count = excluded.depot_count,
			success_count = excluded.success_count,
			results = excluded.results,
			finished_at = excluded.finished_at`,
		snap.JobID, snap.AppID, string(snap.Status), snap.Error,
		len(snap.Tasks), successes, string(results),
		snap.CreatedAt.UTC().Format(time.RFC3339),
		snap.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", snap.JobID, err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT job_id, app_id, status, error, depot_count, success_count, created_at, finished_at
		FROM jobs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created, finished string
		if err := rows.Scan(&e.JobID, &e.AppID, &e.Status, &e.Error,
			&e.DepotCount, &e.SuccessCount, &created, &finished); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
