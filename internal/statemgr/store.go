package statemgr

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Store persists completed/failed session records beyond process memory.
// The manager's default is an in-memory no-op; callers that need
// durability across restarts wire a SQLStore instead.
type Store interface {
	SaveSession(ctx context.Context, s models.RunSessionState) error
}

// NoopStore discards every record; it is the Manager's zero-value default.
type NoopStore struct{}

// SaveSession does nothing.
func (NoopStore) SaveSession(context.Context, models.RunSessionState) error { return nil }

// SQLStore persists session records to a SQL database. The driver is
// selected by whichever `database/sql` driver the caller registered
// (sqlite3 via mattn/go-sqlite3 or modernc.org/sqlite, or Postgres via
// lib/pq) — SQLStore itself is driver-agnostic.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. Callers are responsible for
// driver registration (sql.Open("sqlite3", ...) or sql.Open("postgres", ...)).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the sessions table if it does not already exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_records (
			session_id   TEXT PRIMARY KEY,
			run_id       TEXT,
			phase        TEXT NOT NULL,
			status       TEXT NOT NULL,
			memory_hits  INTEGER NOT NULL,
			tool_events  INTEGER NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure session_records schema: %w", err)
	}
	return nil
}

// SaveSession upserts a session record.
func (s *SQLStore) SaveSession(ctx context.Context, sess models.RunSessionState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (session_id, run_id, phase, status, memory_hits, tool_events, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			phase = excluded.phase,
			status = excluded.status,
			memory_hits = excluded.memory_hits,
			tool_events = excluded.tool_events,
			completed_at = excluded.completed_at
	`, sess.SessionID, sess.RunID, string(sess.Phase), string(sess.Status), sess.MemoryHits, sess.ToolEventsSeen, sess.StartedAt, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.SessionID, err)
	}
	return nil
}
