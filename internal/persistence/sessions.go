package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveSession stores a session. Uses ON CONFLICT to upsert so a restarted
// recorder can re-announce the same session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, config)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			config = excluded.config
	`, session.ID, session.StartedAt.UnixNano(), session.Config)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EndSession stamps the shutdown time and discarded task count.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, endedAt time.Time, discarded int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, discarded = ? WHERE id = ?
	`, endedAt.UnixNano(), discarded, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

// GetSession retrieves one session.
// Returns a wrapped ErrNotFound if no session exists.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, config, discarded
		FROM sessions
		WHERE id = ?
	`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// ListSessions returns the most recent sessions first. limit <= 0 means all.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, config, discarded
		FROM sessions
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var session Session
	var started, ended int64
	if err := row.Scan(&session.ID, &started, &ended, &session.Config, &session.Discarded); err != nil {
		return Session{}, err
	}
	session.StartedAt = time.Unix(0, started)
	if ended != 0 {
		session.EndedAt = time.Unix(0, ended)
	}
	return session, nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
