// Package store persists turn checkpoints, file-operation audit events, and
// aggregate counters in a SQLite database under the workspace. Persistence
// is optional; the pipeline runs fully in memory without it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codewarden/internal/logging"
	"codewarden/internal/mutation"
	"codewarden/internal/types"
)

// Store wraps the audit database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open initializes the SQLite database at the given path, creating the
// parent directory and schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Audit store open at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL,
		state TEXT NOT NULL,
		at DATETIME NOT NULL,
		meta TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_turn ON checkpoints(turn_id);

	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT,
		op_type TEXT NOT NULL,
		at DATETIME NOT NULL,
		path TEXT NOT NULL,
		start_line INTEGER DEFAULT 0,
		end_line INTEGER DEFAULT 0,
		success INTEGER NOT NULL,
		error TEXT,
		old_hash TEXT,
		new_hash TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_turn ON audit_events(turn_id);
	CREATE INDEX IF NOT EXISTS idx_audit_path ON audit_events(path);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCheckpoint appends one checkpoint for a turn.
func (s *Store) SaveCheckpoint(turnID string, cp types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := ""
	if cp.Meta != nil {
		raw, err := json.Marshal(cp.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint meta: %w", err)
		}
		meta = string(raw)
	}

	_, err := s.db.Exec(
		`INSERT INTO checkpoints (turn_id, state, at, meta) VALUES (?, ?, ?, ?)`,
		turnID, cp.State, cp.At.UTC(), meta,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Checkpoints returns a turn's checkpoints in insertion order.
func (s *Store) Checkpoints(turnID string) ([]types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT state, at, meta FROM checkpoints WHERE turn_id = ? ORDER BY id`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var out []types.Checkpoint
	for rows.Next() {
		var cp types.Checkpoint
		var at time.Time
		var meta string
		if err := rows.Scan(&cp.State, &at, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.At = at
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &cp.Meta); err != nil {
				logging.StoreError("Corrupt checkpoint meta for turn %s: %v", turnID, err)
			}
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// RecordAudit stores one file-operation audit event.
func (s *Store) RecordAudit(turnID string, ev mutation.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	success := 0
	if ev.Success {
		success = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_events (turn_id, op_type, at, path, start_line, end_line, success, error, old_hash, new_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turnID, string(ev.Type), ev.Timestamp.UTC(), ev.Path,
		ev.StartLine, ev.EndLine, success, ev.Error, ev.OldHash, ev.NewHash,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// AuditTrail returns the most recent audit events for a turn, newest first.
// turnID may be empty to query across turns.
func (s *Store) AuditTrail(turnID string, limit int) ([]mutation.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT turn_id, op_type, at, path, start_line, end_line, success, error, old_hash, new_hash
		FROM audit_events`
	args := []interface{}{}
	if turnID != "" {
		query += ` WHERE turn_id = ?`
		args = append(args, turnID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []mutation.AuditEvent
	for rows.Next() {
		var ev mutation.AuditEvent
		var opType string
		var success int
		if err := rows.Scan(&ev.TurnID, &opType, &ev.Timestamp, &ev.Path,
			&ev.StartLine, &ev.EndLine, &success, &ev.Error, &ev.OldHash, &ev.NewHash); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Type = mutation.OpType(opType)
		ev.Success = success == 1
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Increment bumps a named counter.
func (s *Store) Increment(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO counters (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	if err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return nil
}

// Counter returns a counter's value; missing counters read as zero.
func (s *Store) Counter(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}
