package database

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// TokenRepository persists magic-link tokens
type TokenRepository struct {
	db *DB
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// CreateLoginToken stores the hash of a freshly issued token
func (r *TokenRepository) CreateLoginToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO login_tokens (id, user_id, token_hash, expires_at, used)
		VALUES ($1, $2, $3, $4, false)
	`

	if _, err := r.db.Pool.Exec(ctx, query, uuid.New().String(), userID, tokenHash, expiresAt); err != nil {
		return fmt.Errorf("failed to create login token: %w", err)
	}

	return nil
}

// ConsumeLoginTokenAndCreateSession flips the matching token to used and opens a
// session for its owner in one transaction. The conditional UPDATE is the only
// gate, so concurrent redemptions of one token yield at most one session.
// Returns ErrNotFound when the token is unknown, used or expired.
func (r *TokenRepository) ConsumeLoginTokenAndCreateSession(ctx context.Context, tokenHash string, sessionTTL time.Duration) (*models.Session, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, `
		UPDATE login_tokens
		SET used = true
		WHERE token_hash = $1 AND used = false AND expires_at > now()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume login token: %w", err)
	}

	var session models.Session
	err = pgxscan.Get(ctx, tx, &session, `
		INSERT INTO sessions (id, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, expires_at, created_at
	`, uuid.New().String(), userID, time.Now().Add(sessionTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit login: %w", err)
	}

	return &session, nil
}
