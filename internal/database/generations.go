package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// GenerationRepository persists successful generations for quota counting
type GenerationRepository struct {
	db *DB
}

// NewGenerationRepository creates a new generation repository
func NewGenerationRepository(db *DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// InsertGeneration records a generation once per (user, external id).
// Reports whether a new row was written.
func (r *GenerationRepository) InsertGeneration(ctx context.Context, userID, externalID string, mode models.Mode) (bool, error) {
	query := `
		INSERT INTO generations (id, user_id, mode, external_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, external_id) DO NOTHING
	`

	tag, err := r.db.Pool.Exec(ctx, query, uuid.New().String(), userID, mode, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to insert generation: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountGenerationsSince counts the user's generations created after since
func (r *GenerationRepository) CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int

	query := `SELECT COUNT(*) FROM generations WHERE user_id = $1 AND created_at > $2`

	if err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}

	return count, nil
}
