package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// bucketState is the persisted token bucket for one key. The balance stays
// fractional internally so continuous refill never accumulates rounding
// bias; only the reported remaining count is floored.
type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

type tokenBucket struct {
	capacity   int64
	refillRate float64
}

func (b *tokenBucket) advance(prev []byte, now time.Time, cost int64) ([]byte, Decision, error) {
	if cost > b.capacity {
		return nil, Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, b.capacity)
	}

	// Lazy creation: a key never seen, or one whose state expired, starts
	// with a full bucket.
	st := bucketState{Tokens: float64(b.capacity), LastRefill: now}

	if prev != nil {
		if err := json.Unmarshal(prev, &st); err != nil {
			return nil, Decision{}, fmt.Errorf("decode token bucket state: %w", err)
		}

		// Clamp elapsed so a backward clock jump cannot mint free tokens.
		elapsed := now.Sub(st.LastRefill)
		if elapsed < 0 {
			elapsed = 0
		}

		st.Tokens += elapsed.Seconds() * b.refillRate
		if st.Tokens > float64(b.capacity) {
			st.Tokens = float64(b.capacity)
		}

		st.LastRefill = now
	}

	if st.Tokens >= float64(cost) {
		st.Tokens -= float64(cost)

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Decision{}, err
		}

		return next, Decision{
			Allowed:   true,
			Remaining: int64(st.Tokens),
			ResetAt:   now.Add(b.timeToRefill(float64(b.capacity) - st.Tokens)),
		}, nil
	}

	// Denied: the refilled (but not decremented) balance still persists.
	next, err := json.Marshal(st)
	if err != nil {
		return nil, Decision{}, err
	}

	wait := b.timeToRefill(float64(cost) - st.Tokens)

	return next, Decision{
		Allowed:    false,
		Remaining:  int64(st.Tokens),
		RetryAfter: wait,
		ResetAt:    now.Add(b.timeToRefill(float64(b.capacity) - st.Tokens)),
	}, nil
}

// timeToRefill converts a token amount into the refill time it needs.
func (b *tokenBucket) timeToRefill(tokens float64) time.Duration {
	return time.Duration(tokens / b.refillRate * float64(time.Second))
}

func (b *tokenBucket) ttl() time.Duration {
	// After a full refill's worth of inactivity the stored bucket is
	// indistinguishable from a fresh one, so it may expire.
	return b.timeToRefill(float64(b.capacity))
}
