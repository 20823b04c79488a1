package services

import (
	"context"

	"github.com/tbourn/go-receipt-backend/internal/observability"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
)

// failurePolicy declares what the pipeline does when a stage fails.
type failurePolicy int

const (
	// absorb replaces the stage's value with a fallback and continues.
	absorb failurePolicy = iota
	// propagate ends the pipeline with the stage's error.
	propagate
)

// stageResult is the explicit outcome of one pipeline stage.
type stageResult[T any] struct {
	stage  string
	policy failurePolicy
	value  T
	err    error
}

// resolve applies the stage policy. Absorbed failures are counted and
// logged and yield fallback with a nil error.
func (r stageResult[T]) resolve(ctx context.Context, fallback T) (T, error) {
	if r.err == nil {
		return r.value, nil
	}
	observability.StageFailures.WithLabelValues(r.stage).Inc()
	if r.policy == absorb {
		sysutil.Logger(ctx).Warn().Err(r.err).Str("stage", r.stage).Msg("stage failed; continuing with fallback")
		return fallback, nil
	}
	sysutil.Logger(ctx).Error().Err(r.err).Str("stage", r.stage).Msg("stage failed")
	return fallback, r.err
}
