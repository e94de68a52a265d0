package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LoadSession returns the encoded session payload stored under id. Expired
// sessions are reported as ErrNotFound.
func (s *Store) LoadSession(ctx context.Context, id string) ([]byte, time.Time, error) {
	var (
		data      string
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT data, expires_at FROM sessions WHERE id = ?`), id).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load session: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, time.Time{}, fmt.Errorf("session expired: %w", ErrNotFound)
	}
	return []byte(data), expiresAt, nil
}

// SaveSession inserts or replaces the session payload.
func (s *Store) SaveSession(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO sessions(id, data, expires_at) VALUES(?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`),
		id, string(data), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session. Missing sessions are not an error.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions purges sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM sessions WHERE expires_at < ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
