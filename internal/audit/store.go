package audit

import "context"

// Store defines the interface for persisting audit events.
type Store interface {
	SaveLimitExceeded(ctx context.Context, event *LimitExceededEvent) error
	SaveLimiterDegraded(ctx context.Context, event *LimiterDegradedEvent) error
}
