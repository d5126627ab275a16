// Package store is the SQLite persistence facade. Kaala mirrors heartbeats
// through it, Vidhi persists learned procedures and reads session history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"chitragupta/internal/logging"
)

// Store wraps one SQLite database. Safe for concurrent use; writes serialize
// over a single connection.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	stmtSaveHeartbeat   *sql.Stmt
	stmtDeleteHeartbeat *sql.Stmt
	stmtSaveVidhi       *sql.Stmt
	stmtDeleteVidhi     *sql.Stmt
	stmtSaveSession     *sql.Stmt
}

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The modernc driver serializes writes; one connection avoids
	// SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to enable WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set synchronous mode: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("opened database at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS heartbeats (
		agent_id     TEXT PRIMARY KEY,
		parent_id    TEXT,
		depth        INTEGER NOT NULL DEFAULT 0,
		purpose      TEXT,
		started_at   INTEGER NOT NULL,
		last_beat    INTEGER NOT NULL,
		turn_count   INTEGER NOT NULL DEFAULT 0,
		token_usage  INTEGER NOT NULL DEFAULT 0,
		token_budget INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_parent ON heartbeats(parent_id);
	CREATE INDEX IF NOT EXISTS idx_heartbeats_status ON heartbeats(status);

	CREATE TABLE IF NOT EXISTS vidhis (
		id                    TEXT PRIMARY KEY,
		project               TEXT NOT NULL,
		name                  TEXT NOT NULL,
		steps_json            TEXT NOT NULL,
		triggers_json         TEXT,
		parameter_schema_json TEXT,
		learned_from_json     TEXT,
		confidence            REAL NOT NULL DEFAULT 0,
		success_count         INTEGER NOT NULL DEFAULT 0,
		failure_count         INTEGER NOT NULL DEFAULT 0,
		success_rate          REAL NOT NULL DEFAULT 0.5,
		created_at            INTEGER NOT NULL,
		updated_at            INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vidhis_project ON vidhis(project);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		project    TEXT NOT NULL,
		turns_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) prepare() error {
	var err error
	prepared := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.stmtSaveHeartbeat, `
			INSERT INTO heartbeats
				(agent_id, parent_id, depth, purpose, started_at, last_beat,
				 turn_count, token_usage, token_budget, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(agent_id) DO UPDATE SET
				parent_id=excluded.parent_id, depth=excluded.depth,
				purpose=excluded.purpose, last_beat=excluded.last_beat,
				turn_count=excluded.turn_count, token_usage=excluded.token_usage,
				token_budget=excluded.token_budget, status=excluded.status`},
		{&s.stmtDeleteHeartbeat, `DELETE FROM heartbeats WHERE agent_id = ?`},
		{&s.stmtSaveVidhi, `
			INSERT INTO vidhis
				(id, project, name, steps_json, triggers_json, parameter_schema_json,
				 learned_from_json, confidence, success_count, failure_count,
				 success_rate, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name=excluded.name, steps_json=excluded.steps_json,
				triggers_json=excluded.triggers_json,
				parameter_schema_json=excluded.parameter_schema_json,
				learned_from_json=excluded.learned_from_json,
				confidence=excluded.confidence, success_count=excluded.success_count,
				failure_count=excluded.failure_count, success_rate=excluded.success_rate,
				updated_at=excluded.updated_at`},
		{&s.stmtDeleteVidhi, `DELETE FROM vidhis WHERE id = ?`},
		{&s.stmtSaveSession, `
			INSERT INTO sessions (id, project, turns_json, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project=excluded.project, turns_json=excluded.turns_json`},
	}
	for _, p := range prepared {
		if *p.dst, err = s.db.Prepare(p.sql); err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range []*sql.Stmt{
		s.stmtSaveHeartbeat, s.stmtDeleteHeartbeat,
		s.stmtSaveVidhi, s.stmtDeleteVidhi, s.stmtSaveSession,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
