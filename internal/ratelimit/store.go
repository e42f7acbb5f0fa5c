package ratelimit

import (
	"context"
	"time"
)

// Store persists per-key limiter state as opaque bytes. The limiter never
// caches state between calls; every decision is a fresh read-modify-write
// cycle against the Store so concurrent callers, including ones in other
// processes, stay correct.
//
// Implementations must make CompareAndSwap atomic per key. Operations on
// distinct keys must never block one another.
type Store interface {
	// Get returns the stored state for key, or nil when the key is
	// absent or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// CompareAndSwap replaces the state for key with next if the stored
	// value still equals expected (nil meaning "key absent"), refreshing
	// the TTL on success. It reports whether the swap happened.
	CompareAndSwap(ctx context.Context, key string, expected, next []byte, ttl time.Duration) (bool, error)
}
