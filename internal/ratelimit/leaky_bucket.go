package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// queueState is the persisted leaky bucket for one key: how much of the
// queue is occupied and when it last drained.
type queueState struct {
	Level    float64   `json:"level"`
	LastLeak time.Time `json:"last_leak"`
}

type leakyBucket struct {
	capacity int64
	leakRate float64
}

func (b *leakyBucket) advance(prev []byte, now time.Time, cost int64) ([]byte, Decision, error) {
	if cost > b.capacity {
		return nil, Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, b.capacity)
	}

	st := queueState{Level: 0, LastLeak: now}

	if prev != nil {
		if err := json.Unmarshal(prev, &st); err != nil {
			return nil, Decision{}, fmt.Errorf("decode leaky bucket state: %w", err)
		}

		// Clamp elapsed so a backward clock jump cannot drain the queue.
		elapsed := now.Sub(st.LastLeak)
		if elapsed < 0 {
			elapsed = 0
		}

		st.Level -= elapsed.Seconds() * b.leakRate
		if st.Level < 0 {
			st.Level = 0
		}

		st.LastLeak = now
	}

	if st.Level+float64(cost) <= float64(b.capacity) {
		st.Level += float64(cost)

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Decision{}, err
		}

		return next, Decision{
			Allowed:   true,
			Remaining: int64(float64(b.capacity) - st.Level),
			ResetAt:   now.Add(b.timeToDrain(st.Level)),
		}, nil
	}

	// Denied: the drained level still persists. Admitted requests do not
	// speed up the pipe, so the wait is purely how long the overflow
	// takes to leak out.
	next, err := json.Marshal(st)
	if err != nil {
		return nil, Decision{}, err
	}

	wait := b.timeToDrain(st.Level + float64(cost) - float64(b.capacity))

	return next, Decision{
		Allowed:    false,
		Remaining:  int64(float64(b.capacity) - st.Level),
		RetryAfter: wait,
		ResetAt:    now.Add(b.timeToDrain(st.Level)),
	}, nil
}

// timeToDrain converts occupied queue units into the leak time they need.
func (b *leakyBucket) timeToDrain(units float64) time.Duration {
	return time.Duration(units / b.leakRate * float64(time.Second))
}

func (b *leakyBucket) ttl() time.Duration {
	// A queue left alone for a full drain is empty, same as a fresh one.
	return b.timeToDrain(float64(b.capacity))
}
