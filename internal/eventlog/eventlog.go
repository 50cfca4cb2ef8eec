// Package eventlog is a SQLite-backed (github.com/mattn/go-sqlite3)
// append-only audit trail of DAG execution events, independent of and
// complementary to the JSON checkpoint: the checkpoint answers "what is
// the current state", the event log answers "what happened, in order,
// with timestamps". Grounded on the teacher's internal/db/db.go (WAL
// mode, single connection, versioned schema migration) and
// internal/db/queries.go (typed event structs, sql.NullString scanning).
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event kinds recorded by the executor, for its own level and issue steps
// and for the merge gate's and replanner's results.
const (
	KindLevelStart       = "level_start"
	KindIssueOutcome     = "issue_outcome"
	KindMerge            = "merge"
	KindIntegrationTest  = "integration_test"
	KindReplanDecision   = "replan_decision"
)

// DB wraps the execution event log's SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the event log at path, creating its parent
// directory if needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventlog: ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("eventlog: set journal mode: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the event log file's location, for logging.
func (d *DB) Path() string { return d.path }

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS execution_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    ts           TEXT NOT NULL DEFAULT (datetime('now')),
    level_index  INTEGER NOT NULL,
    issue_name   TEXT,
    event_kind   TEXT NOT NULL,
    detail       TEXT,
    replan_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_execution_events_level ON execution_events(level_index, ts);
CREATE INDEX IF NOT EXISTS idx_execution_events_issue ON execution_events(issue_name);
`

// Migrate applies the event log schema. Safe to call repeatedly.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("eventlog: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("eventlog: apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("eventlog: record schema version: %w", err)
	}
	return tx.Commit()
}

// Event is one row of the execution_events timeline, as read back by
// Timeline for display.
type Event struct {
	ID          int64
	Timestamp   string
	LevelIndex  int
	IssueName   string
	EventKind   string
	Detail      string
	ReplanCount int
}

// Record appends one event row. detail is marshaled to JSON; a nil detail
// stores an empty string. issueName may be empty for level- or
// replan-scoped events that aren't about a single issue.
func (d *DB) Record(eventKind string, levelIndex int, issueName string, replanCount int, detail any) error {
	var detailJSON string
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("eventlog: marshal detail: %w", err)
		}
		detailJSON = string(data)
	}

	var issueCol sql.NullString
	if issueName != "" {
		issueCol = sql.NullString{String: issueName, Valid: true}
	}

	_, err := d.conn.Exec(
		`INSERT INTO execution_events (level_index, issue_name, event_kind, detail, replan_count) VALUES (?, ?, ?, ?, ?)`,
		levelIndex, issueCol, eventKind, detailJSON, replanCount,
	)
	if err != nil {
		return fmt.Errorf("eventlog: record %s: %w", eventKind, err)
	}
	return nil
}

// Timeline returns every recorded event in chronological order, for the
// "dag status" CLI command to render without re-parsing the checkpoint.
func (d *DB) Timeline() ([]Event, error) {
	rows, err := d.conn.Query(
		`SELECT id, ts, level_index, issue_name, event_kind, detail, replan_count
		 FROM execution_events ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query timeline: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var issueName sql.NullString
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.LevelIndex, &issueName, &e.EventKind, &detail, &e.ReplanCount); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		if issueName.Valid {
			e.IssueName = issueName.String
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate timeline: %w", err)
	}
	return events, nil
}
