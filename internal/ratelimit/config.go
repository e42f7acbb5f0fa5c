package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm selects the rate limiting strategy. The set is closed; the
// choice is made once at limiter construction.
type Algorithm string

const (
	// AlgorithmTokenBucket absorbs bursts up to capacity while capping
	// the long-run rate at RefillRate. Good default.
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmLeakyBucket models a constant-rate pipe: bursts queue up
	// to capacity but the sustained output rate never exceeds RefillRate.
	AlgorithmLeakyBucket Algorithm = "leaky_bucket"

	// AlgorithmFixedWindow counts per aligned window in O(1) space. Up to
	// 2x capacity can slip through a span straddling a window boundary.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmSlidingLog enforces the window exactly by keeping request
	// timestamps, at O(capacity) cost per key.
	AlgorithmSlidingLog Algorithm = "sliding_log"

	// AlgorithmSlidingCounter approximates the sliding window in O(1)
	// space by interpolating the previous window's count.
	AlgorithmSlidingCounter Algorithm = "sliding_counter"
)

func (a Algorithm) String() string {
	return string(a)
}

// FailurePolicy controls what callers see when the store is unreachable.
type FailurePolicy string

const (
	// FailOpen admits requests during store outages so the limiter never
	// takes down the service it protects. Remaining is unknown.
	FailOpen FailurePolicy = "fail_open"

	// FailClosed denies requests during store outages, preserving the
	// limiting guarantee at the cost of availability.
	FailClosed FailurePolicy = "fail_closed"
)

// Config binds an algorithm to its quota parameters. It is immutable once
// handed to New.
type Config struct {
	Algorithm Algorithm

	// Capacity is the maximum units per window, or the bucket size.
	Capacity int64

	// Window is the quota time span. Required for the window algorithms.
	Window time.Duration

	// RefillRate is units per second earned (token bucket) or drained
	// (leaky bucket). Required for those two algorithms.
	RefillRate float64

	// FailurePolicy defaults to FailClosed when empty.
	FailurePolicy FailurePolicy
}

// Validate checks the quota parameters for the selected algorithm.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}

	switch c.Algorithm {
	case AlgorithmTokenBucket, AlgorithmLeakyBucket:
		if c.RefillRate <= 0 {
			return fmt.Errorf("%w: refill rate must be positive, got %g", ErrInvalidConfig, c.RefillRate)
		}
	case AlgorithmFixedWindow, AlgorithmSlidingLog, AlgorithmSlidingCounter:
		if c.Window <= 0 {
			return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}

	switch c.FailurePolicy {
	case FailOpen, FailClosed, "":
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, c.FailurePolicy)
	}

	return nil
}
