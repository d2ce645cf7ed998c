package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateSession stores a session.
func (q *Queries) CreateSession(ctx context.Context, s Session) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		s.Token, s.UserID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a live session. Expired sessions are reported as
// ErrNotFound.
func (q *Queries) GetSession(ctx context.Context, token string, now time.Time) (*Session, error) {
	var s Session
	err := q.q.QueryRowContext(ctx,
		"SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?",
		token).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if !now.Before(s.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// DeleteSession removes a session. Deleting an unknown token is not an error.
func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// PurgeExpiredSessions deletes sessions that expired before now and returns
// how many were removed.
func (q *Queries) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
