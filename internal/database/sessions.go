package database

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// SessionRepository persists login sessions
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetActiveSession returns the session if it exists and has not expired.
// Expired rows are never swept; they are filtered here.
func (r *SessionRepository) GetActiveSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session

	query := `
		SELECT id, user_id, expires_at, created_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()
	`

	err := pgxscan.Get(ctx, r.db.Pool, &session, query, id)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

// DeleteSession removes a session. Deleting an absent session is not an error.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
