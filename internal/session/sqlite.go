package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a local SQLite database. It exists for
// single-binary deployments with no Redis; expiry is an expires_at column
// checked on every read and swept opportunistically on writes.
type SQLiteStore struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	opts.applyDefaults()

	// _txlock=immediate makes BeginTx take the write lock up front, so
	// concurrent appends queue on busy_timeout instead of failing with
	// SQLITE_BUSY at the upgrade.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		opts:   opts,
		logger: logger.With("component", "session", "backend", "sqlite"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		user_id    TEXT PRIMARY KEY,
		turns      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the live session for userID. Expired rows are treated as
// absent. Backend errors degrade to an empty session, logged.
func (s *SQLiteStore) Get(ctx context.Context, userID string) ([]Turn, error) {
	var raw string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT turns, expires_at FROM sessions WHERE user_id = ?`, userID,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("session read failed, starting with fresh context",
			"user", userID, "error", err)
		return nil, nil
	}
	if time.Now().Unix() >= expiresAt {
		return nil, nil
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		s.logger.Warn("stored session is not valid JSON, discarding",
			"user", userID, "error", err)
		return nil, nil
	}
	return turns, nil
}

// Append atomically appends a turn inside a transaction, trims to the
// history cap, and refreshes expires_at to a full TTL.
func (s *SQLiteStore) Append(ctx context.Context, userID string, turn Turn) ([]Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: append for %s: begin: %w", userID, err)
	}
	defer tx.Rollback()

	var turns []Turn
	var raw string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT turns, expires_at FROM sessions WHERE user_id = ?`, userID,
	).Scan(&raw, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		turns = s.opts.seed()
	case err != nil:
		return nil, fmt.Errorf("session: append for %s: load: %w", userID, err)
	case time.Now().Unix() >= expiresAt:
		turns = s.opts.seed()
	default:
		if err := json.Unmarshal([]byte(raw), &turns); err != nil {
			turns = s.opts.seed()
		}
	}

	turns = trim(append(turns, turn), s.opts.HistoryLength)
	buf, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("session: append for %s: encode: %w", userID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (user_id, turns, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET turns = excluded.turns, expires_at = excluded.expires_at`,
		userID, string(buf), time.Now().Add(s.opts.TTL).Unix())
	if err != nil {
		return nil, fmt.Errorf("session: append for %s: write: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("session: append for %s: commit: %w", userID, err)
	}

	s.sweep(ctx)
	return turns, nil
}

// Clear deletes the session. Deleting an absent session is not an error.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("session: clear for %s: %w", userID, err)
	}
	return nil
}

// sweep removes expired rows. Best effort; failures are only logged.
func (s *SQLiteStore) sweep(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, time.Now().Unix()); err != nil {
		s.logger.Debug("session sweep failed", "error", err)
	}
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
