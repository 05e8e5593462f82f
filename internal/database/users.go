package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// UserRepository persists users keyed by email
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertUserByEmail returns the user with the given email, creating it on first sight.
// Emails are stored lower-cased.
func (r *UserRepository) UpsertUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User

	query := `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at
	`

	email = strings.ToLower(strings.TrimSpace(email))
	if err := pgxscan.Get(ctx, r.db.Pool, &user, query, uuid.New().String(), email); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return &user, nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User

	query := `SELECT id, email, created_at FROM users WHERE id = $1`

	err := pgxscan.Get(ctx, r.db.Pool, &user, query, id)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
