package store

import (
	"context"

	"github.com/serroba/ratelimit-go/internal/audit"
	"go.uber.org/zap"
)

// Noop is a no-op implementation of audit.Store that logs events.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a new no-op audit store.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

func (n *Noop) SaveLimitExceeded(_ context.Context, event *audit.LimitExceededEvent) error {
	n.logger.Info("limit exceeded event received",
		zap.String("key", event.Key),
		zap.String("algorithm", event.Algorithm),
		zap.Int64("limit", event.Limit),
		zap.Duration("retryAfter", event.RetryAfter),
		zap.String("path", event.Path),
		zap.Time("deniedAt", event.DeniedAt),
	)

	return nil
}

func (n *Noop) SaveLimiterDegraded(_ context.Context, event *audit.LimiterDegradedEvent) error {
	n.logger.Info("limiter degraded event received",
		zap.String("key", event.Key),
		zap.String("policy", event.Policy),
		zap.Time("occurredAt", event.OccurredAt),
	)

	return nil
}
