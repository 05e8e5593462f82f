package generation

import (
	"context"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

// RecordStore persists generation records idempotently
type RecordStore interface {
	InsertGeneration(ctx context.Context, userID, externalID string, mode models.Mode) (bool, error)
}

// Recorder charges a successful generation to a user's quota exactly once per job
type Recorder struct {
	store  RecordStore
	logger *logging.Logger
}

// NewRecorder creates a recorder
func NewRecorder(store RecordStore, logger *logging.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// RecordSuccess records a succeeded job for an identified user. Repeat calls
// for the same job are no-ops.
func (r *Recorder) RecordSuccess(ctx context.Context, userID, jobID string, mode models.Mode) error {
	if userID == "" || jobID == "" {
		return nil
	}

	inserted, err := r.store.InsertGeneration(ctx, userID, jobID, mode)
	if err != nil {
		return err
	}

	metrics.RecordGenerationRecord(string(mode), inserted)
	if inserted {
		r.logger.WithUserID(userID).WithGenerationID(jobID).Info("generation recorded")
	}
	return nil
}
