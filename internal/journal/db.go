// Package journal keeps a local SQLite record of monitored sessions.
package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Journal is the SQLite-backed session record. It is safe for concurrent use.
type Journal struct {
	conn *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One writer; sqlite serializes anyway.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{conn: conn}
	if err := j.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

func (j *Journal) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		test_id INTEGER PRIMARY KEY,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		suspicious_count INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		test_id INTEGER NOT NULL REFERENCES sessions(test_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		edge_density REAL NOT NULL,
		faces_detected INTEGER NOT NULL,
		suspicious INTEGER NOT NULL,
		activity_confidence REAL NOT NULL DEFAULT 0,
		face_boxes TEXT NOT NULL DEFAULT '[]',
		processed_at DATETIME,
		recorded_at DATETIME NOT NULL,
		UNIQUE (test_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_results_test ON results(test_id, seq);
	`

	_, err := j.conn.Exec(query)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.conn.Close()
}
