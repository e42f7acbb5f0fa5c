package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/serroba/ratelimit-go/internal/clock"
	"go.uber.org/zap"
)

// casRetryBudget bounds optimistic retries within one Decide call.
// Exhausting it is reported as contention, never retried unboundedly.
const casRetryBudget = 4

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Decide checks whether cost units may be consumed by key right now.
	// It returns the Decision, or an error for configuration-class
	// problems (invalid cost, cost that can never fit capacity). Store
	// outages do not surface as errors; the configured FailurePolicy
	// turns them into a Decision.
	Decide(ctx context.Context, key string, cost int64) (Decision, error)
}

// algorithm is one strategy's pure state transition. advance receives the
// previously stored state (nil on first touch) and returns the state to
// persist together with the Decision. State persists even on denial so
// refill and leak progress is never lost.
type algorithm interface {
	advance(prev []byte, now time.Time, cost int64) (next []byte, dec Decision, err error)

	// ttl is the store expiry for idle keys: after this much inactivity
	// the stored state is equivalent to a fresh one.
	ttl() time.Duration
}

// KeyLimiter binds a Config to a Store and Clock. It owns no mutable state
// beyond its immutable configuration; all per-key state lives in the Store
// and is mutated through bounded compare-and-swap cycles, making the same
// limiter correct in-process and, with a distributed Store, across hosts.
type KeyLimiter struct {
	cfg    Config
	algo   algorithm
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// New constructs a KeyLimiter. Invalid quota parameters surface here, once,
// rather than per request. A nil clock means the system clock; a nil
// logger disables logging.
func New(cfg Config, store Store, clk clock.Clock, logger *zap.Logger) (*KeyLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailClosed
	}

	if clk == nil {
		clk = clock.System()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	var algo algorithm

	switch cfg.Algorithm {
	case AlgorithmTokenBucket:
		algo = &tokenBucket{capacity: cfg.Capacity, refillRate: cfg.RefillRate}
	case AlgorithmLeakyBucket:
		algo = &leakyBucket{capacity: cfg.Capacity, leakRate: cfg.RefillRate}
	case AlgorithmFixedWindow:
		algo = &fixedWindow{capacity: cfg.Capacity, window: cfg.Window}
	case AlgorithmSlidingLog:
		algo = &slidingLog{capacity: cfg.Capacity, window: cfg.Window}
	case AlgorithmSlidingCounter:
		algo = &slidingCounter{capacity: cfg.Capacity, window: cfg.Window}
	}

	return &KeyLimiter{
		cfg:    cfg,
		algo:   algo,
		store:  store,
		clock:  clk,
		logger: logger,
	}, nil
}

// Config returns the configuration the limiter was built with.
func (l *KeyLimiter) Config() Config {
	return l.cfg
}

// Decide runs one atomic read-modify-write cycle for key: read the stored
// state, advance it to now, and swap it back conditioned on the value read.
// A conflicting writer for the same key costs one bounded retry; distinct
// keys never contend.
func (l *KeyLimiter) Decide(ctx context.Context, key string, cost int64) (Decision, error) {
	if cost <= 0 {
		return Decision{}, fmt.Errorf("%w: cost must be positive, got %d", ErrInvalidConfig, cost)
	}

	for attempt := 0; attempt < casRetryBudget; attempt++ {
		prev, err := l.store.Get(ctx, key)
		if err != nil {
			return l.applyFailurePolicy(key, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}

		next, dec, err := l.algo.advance(prev, l.clock.Now(), cost)
		if err != nil {
			return Decision{}, err
		}

		swapped, err := l.store.CompareAndSwap(ctx, key, prev, next, l.algo.ttl())
		if err != nil {
			return l.applyFailurePolicy(key, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}

		if swapped {
			return dec, nil
		}
	}

	return l.applyFailurePolicy(key, ErrContention)
}

// applyFailurePolicy turns a store-class failure into the configured
// Decision: fail open admits with an unknown remaining count, fail closed
// denies until the store recovers.
func (l *KeyLimiter) applyFailurePolicy(key string, cause error) (Decision, error) {
	now := l.clock.Now()

	l.logger.Warn("rate limit store failure",
		zap.String("key", key),
		zap.String("policy", string(l.cfg.FailurePolicy)),
		zap.Error(cause),
	)

	if l.cfg.FailurePolicy == FailOpen {
		return Decision{Allowed: true, Remaining: RemainingUnknown, ResetAt: now}, nil
	}

	return Decision{Allowed: false, Remaining: 0, ResetAt: now}, nil
}

// Compile-time check.
var _ Limiter = (*KeyLimiter)(nil)
