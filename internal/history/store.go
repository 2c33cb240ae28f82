// Package history persists content fingerprint transitions to SQLite so
// the query API can serve per-session change logs.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// DefaultRetainPerSession bounds how many change records are kept per
// session.
const DefaultRetainPerSession = 200

// Change is one recorded fingerprint transition.
type Change struct {
	SessionID   string          `json:"session_id"`
	Fingerprint string          `json:"fingerprint"`
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	CapturedAt  time.Time       `json:"captured_at"`
}

// Store is the SQLite-backed change log.
type Store struct {
	db     *sql.DB
	retain int

	stmtInsert *sql.Stmt
	stmtPrune  *sql.Stmt
	stmtList   *sql.Stmt
}

// Open opens (creating if needed) the history database at the given
// path.
func Open(path string, retain int) (*Store, error) {
	if retain <= 0 {
		retain = DefaultRetainPerSession
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	s := &Store{db: db, retain: retain}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepare(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Int("retain", retain).Msg("history store opened")
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL);

		CREATE TABLE IF NOT EXISTS changes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			snapshot    BLOB,
			captured_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_changes_session
			ON changes(session_id, id DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate history schema: %w", err)
	}

	var version int
	err = s.db.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO schema_info (version) VALUES (?)`, schemaVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func (s *Store) prepare() error {
	var err error
	if s.stmtInsert, err = s.db.Prepare(
		`INSERT INTO changes (session_id, fingerprint, snapshot, captured_at) VALUES (?, ?, ?, ?)`,
	); err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	if s.stmtPrune, err = s.db.Prepare(
		`DELETE FROM changes WHERE session_id = ? AND id NOT IN (
			SELECT id FROM changes WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`,
	); err != nil {
		return fmt.Errorf("failed to prepare prune: %w", err)
	}
	if s.stmtList, err = s.db.Prepare(
		`SELECT fingerprint, snapshot, captured_at FROM changes
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
	); err != nil {
		return fmt.Errorf("failed to prepare list: %w", err)
	}
	return nil
}

// Record appends a fingerprint transition and prunes old records beyond
// the retention bound.
func (s *Store) Record(sessionID, fingerprint string, snapshot json.RawMessage, capturedAt time.Time) error {
	if _, err := s.stmtInsert.Exec(sessionID, fingerprint, []byte(snapshot), capturedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	if _, err := s.stmtPrune.Exec(sessionID, sessionID, s.retain); err != nil {
		return fmt.Errorf("failed to prune changes: %w", err)
	}
	return nil
}

// Changes returns up to limit most-recent transitions for a session,
// newest first.
func (s *Store) Changes(sessionID string, limit int) ([]Change, error) {
	if limit <= 0 || limit > s.retain {
		limit = s.retain
	}

	rows, err := s.stmtList.Query(sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Change
	for rows.Next() {
		var c Change
		var snapshot []byte
		var capturedAt int64
		if err := rows.Scan(&c.Fingerprint, &snapshot, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.SessionID = sessionID
		c.Snapshot = snapshot
		c.CapturedAt = time.UnixMilli(capturedAt).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsert, s.stmtPrune, s.stmtList} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}
