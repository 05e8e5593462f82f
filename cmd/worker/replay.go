package main

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

type resubmitFunc func(ctx context.Context, failure *models.FulfillmentFailure) error

// failureSource is the part of the failure queue the worker drains
type failureSource interface {
	Depth() (int, error)
	Replay(ctx context.Context, max int, handler func(context.Context, *models.FulfillmentFailure) error) (int, error)
}

// replayWorker periodically resubmits parked orders. An order the partner
// still rejects goes to the back of the queue and the batch carries on.
type replayWorker struct {
	queue    failureSource
	resubmit resubmitFunc
	interval time.Duration
	batch    int
	logger   *logging.Logger
}

func (w *replayWorker) Run(ctx context.Context) {
	interval := w.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *replayWorker) tick(ctx context.Context) int {
	depth, err := w.queue.Depth()
	if err != nil {
		w.logger.WithError(err).Warn("failed to inspect failure queue")
		return 0
	}
	if depth == 0 {
		return 0
	}

	batch := w.batch
	if batch <= 0 {
		batch = 10
	}

	replayed, err := w.queue.Replay(ctx, batch, w.resubmit)
	log := w.logger.WithFields(map[string]interface{}{
		"depth":    depth,
		"replayed": replayed,
	})
	if err != nil {
		log.WithError(err).Warn("some parked orders were rejected again")
		return replayed
	}

	log.Info("replayed parked fulfillment orders")
	return replayed
}
