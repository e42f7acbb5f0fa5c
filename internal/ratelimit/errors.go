package ratelimit

import "errors"

// ErrInvalidConfig indicates quota parameters that can never produce a
// working limiter: non-positive capacity, window, refill rate, or cost.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// ErrCostExceedsCapacity indicates a request whose cost is larger than the
// configured capacity. Such a request can never succeed, so callers must
// not retry it.
var ErrCostExceedsCapacity = errors.New("request cost exceeds capacity")

// ErrStoreUnavailable indicates the backing store could not be reached or
// timed out. The limiter's failure policy decides what the caller sees.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// ErrContention indicates the compare-and-swap retry budget was exhausted
// for one Decide call. It is transient and handled like a store failure.
var ErrContention = errors.New("rate limit contention budget exhausted")
