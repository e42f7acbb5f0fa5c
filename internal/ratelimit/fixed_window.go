package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// windowState is the persisted fixed window counter for one key.
type windowState struct {
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// fixedWindow counts requests per aligned window. It deliberately keeps
// the well-known boundary defect: up to 2x capacity can be admitted within
// a window-length span straddling a boundary. That is the price of O(1)
// state; callers needing strict bounds should pick sliding_counter or
// sliding_log instead.
type fixedWindow struct {
	capacity int64
	window   time.Duration
}

func (w *fixedWindow) advance(prev []byte, now time.Time, cost int64) ([]byte, Decision, error) {
	if cost > w.capacity {
		return nil, Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, w.capacity)
	}

	start := now.Truncate(w.window)
	st := windowState{WindowStart: start}

	if prev != nil {
		if err := json.Unmarshal(prev, &st); err != nil {
			return nil, Decision{}, fmt.Errorf("decode fixed window state: %w", err)
		}

		// Lazy rollover: whatever a reset timer would have done happens
		// here, on read. Only roll forward; a backward clock jump keeps
		// the stored window rather than handing out a fresh quota.
		if start.After(st.WindowStart) {
			st.Count = 0
			st.WindowStart = start
		}
	}

	resetAt := st.WindowStart.Add(w.window)

	if st.Count+cost <= w.capacity {
		st.Count += cost

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Decision{}, err
		}

		return next, Decision{
			Allowed:   true,
			Remaining: w.capacity - st.Count,
			ResetAt:   resetAt,
		}, nil
	}

	next, err := json.Marshal(st)
	if err != nil {
		return nil, Decision{}, err
	}

	wait := resetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}

	return next, Decision{
		Allowed:    false,
		Remaining:  w.capacity - st.Count,
		RetryAfter: wait,
		ResetAt:    resetAt,
	}, nil
}

func (w *fixedWindow) ttl() time.Duration {
	return w.window
}
