// Package version implements the append-only version store: immutable
// snapshots of generated output trees with activation and non-destructive
// rollback. Metadata lives in SQLite; file trees live under the storage
// directory, keyed by (websiteID, versionID).
package version

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the database at the given path, creating parent
// directories if needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS versions (
    id                TEXT PRIMARY KEY,
    website_id        TEXT NOT NULL,
    version_number    TEXT NOT NULL,
    source_dir        TEXT NOT NULL,
    storage_path      TEXT NOT NULL,
    tokens_json       TEXT,
    changelog         TEXT,
    accuracy_score    REAL,
    parent_version_id TEXT REFERENCES versions(id),
    is_active         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(website_id, version_number)
);
CREATE INDEX IF NOT EXISTS idx_versions_website ON versions(website_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_active ON versions(website_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS version_files (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id TEXT NOT NULL REFERENCES versions(id),
    path       TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    UNIQUE(version_id, path)
);
CREATE INDEX IF NOT EXISTS idx_version_files ON version_files(version_id);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    website_id TEXT,
    event      TEXT NOT NULL,
    phase      TEXT,
    detail     TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_pipeline_job ON pipeline_events(job_id, timestamp DESC);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"pipeline_events", "version_files", "versions", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}

// LogPipelineEvent appends an audit row for a job.
func (d *DB) LogPipelineEvent(jobID, websiteID, event, phase, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (job_id, website_id, event, phase, detail) VALUES (?, ?, ?, ?, ?)`,
		jobID, websiteID, event, phase, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int    `json:"id"`
	JobID     string `json:"job_id"`
	WebsiteID string `json:"website_id"`
	Event     string `json:"event"`
	Phase     string `json:"phase"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

// ListPipelineEvents returns the most recent events for a job, newest first.
func (d *DB) ListPipelineEvents(jobID string, limit int) ([]PipelineEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.conn.Query(
		`SELECT id, job_id, COALESCE(website_id, ''), event, COALESCE(phase, ''), COALESCE(detail, ''), timestamp
		 FROM pipeline_events WHERE job_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.WebsiteID, &e.Event, &e.Phase, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
