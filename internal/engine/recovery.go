package engine

import (
	"context"

	"go.uber.org/zap"

	"support-triage/backend/internal/models"
)

// RecoverStuck reconciles messages abandoned mid-generation by a shutdown.
// They are moved to failed with an explicit reason rather than re-queued
// automatically: a crash loop must not burn provider budget, and the retry
// endpoint puts them back to pending on demand.
func (e *Engine) RecoverStuck(ctx context.Context) (int, error) {
	stuck, err := e.store.ListProcessing(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range stuck {
		msg := &stuck[i]
		if !e.locks.TryAcquire(msg.ID) {
			continue
		}
		err := e.transition(ctx, msg, models.StatusFailed, "interrupted by shutdown")
		e.locks.Release(msg.ID)
		if err != nil {
			e.logger.Error("recovery sweep failed for message",
				zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		e.logger.Info("recovered interrupted messages", zap.Int("count", recovered))
	}
	return recovered, nil
}

// Retry re-submits a failed message for processing. This is the only path
// that moves a message backwards in the lifecycle, and it is always explicit.
func (e *Engine) Retry(ctx context.Context, msg *models.Message) error {
	if !e.locks.TryAcquire(msg.ID) {
		e.logger.Debug("retry suppressed, message busy", zap.String("message_id", msg.ID))
		return nil
	}
	defer e.locks.Release(msg.ID)
	return e.transition(ctx, msg, models.StatusPending, "manual retry")
}
