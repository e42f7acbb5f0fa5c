package ratelimit

import "time"

// RemainingUnknown is reported when the limiter cannot determine the
// remaining quota, for example when failing open during a store outage.
const RemainingUnknown int64 = -1

// Decision is the outcome of a single rate limit check. It is transient
// and never persisted.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the best-effort number of units left in the current
	// quota after this decision, floored to a whole number, or
	// RemainingUnknown.
	Remaining int64

	// ResetAt is when the quota meaningfully refreshes: the bucket is
	// full again, the window rolls over, or the oldest log entry ages out.
	ResetAt time.Time

	// RetryAfter hints how long the caller should wait before retrying.
	// Only meaningful when the request was denied.
	RetryAfter time.Duration
}
