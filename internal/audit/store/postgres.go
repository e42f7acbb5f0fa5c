package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/ratelimit-go/internal/audit"
)

// Postgres is a PostgreSQL implementation of audit.Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL-backed audit store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) SaveLimitExceeded(ctx context.Context, event *audit.LimitExceededEvent) error {
	query := `
		INSERT INTO limit_exceeded_events
			(id, key, algorithm, limit_max, retry_after_ms, path, method, client_ip, user_agent, denied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.Key,
		event.Algorithm,
		event.Limit,
		event.RetryAfter.Milliseconds(),
		event.Path,
		event.Method,
		event.ClientIP,
		event.UserAgent,
		event.DeniedAt,
	)

	return err
}

func (p *Postgres) SaveLimiterDegraded(ctx context.Context, event *audit.LimiterDegradedEvent) error {
	query := `
		INSERT INTO limiter_degraded_events (id, key, policy, path, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.Key,
		event.Policy,
		event.Path,
		event.OccurredAt,
	)

	return err
}
