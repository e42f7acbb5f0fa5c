package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// dualWindowState persists the current aligned window count plus the
// previous window's. Invariant: CurStart = PrevStart + window.
type dualWindowState struct {
	PrevCount int64     `json:"prev_count"`
	PrevStart time.Time `json:"prev_start"`
	CurCount  int64     `json:"cur_count"`
	CurStart  time.Time `json:"cur_start"`
}

// slidingCounter approximates a sliding window in O(1) space by linearly
// weighting the previous window's count by how much of it still overlaps
// the trailing window. The estimate never undercounts by more than one
// window's worth of slack, which removes the fixed window boundary defect.
type slidingCounter struct {
	capacity int64
	window   time.Duration
}

func (c *slidingCounter) advance(prev []byte, now time.Time, cost int64) ([]byte, Decision, error) {
	if cost > c.capacity {
		return nil, Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, c.capacity)
	}

	start := now.Truncate(c.window)
	st := dualWindowState{CurStart: start, PrevStart: start.Add(-c.window)}

	if prev != nil {
		if err := json.Unmarshal(prev, &st); err != nil {
			return nil, Decision{}, fmt.Errorf("decode sliding counter state: %w", err)
		}

		// Roll forward by however many whole windows have elapsed. A gap
		// of more than one window means the previous contribution has
		// decayed to zero; it must not carry forward stale counts.
		// A backward clock jump keeps the stored windows.
		if start.After(st.CurStart) {
			if start.Sub(st.CurStart) == c.window {
				st.PrevCount = st.CurCount
			} else {
				st.PrevCount = 0
			}

			st.PrevStart = start.Add(-c.window)
			st.CurCount = 0
			st.CurStart = start
		}
	}

	elapsed := now.Sub(st.CurStart)
	if elapsed < 0 {
		elapsed = 0
	}

	weight := 1 - float64(elapsed)/float64(c.window)
	if weight < 0 {
		weight = 0
	}

	if weight > 1 {
		weight = 1
	}

	estimated := weight*float64(st.PrevCount) + float64(st.CurCount)
	resetAt := st.CurStart.Add(c.window)

	if estimated+float64(cost) <= float64(c.capacity) {
		st.CurCount += cost

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Decision{}, err
		}

		return next, Decision{
			Allowed:   true,
			Remaining: int64(float64(c.capacity) - estimated - float64(cost)),
			ResetAt:   resetAt,
		}, nil
	}

	next, err := json.Marshal(st)
	if err != nil {
		return nil, Decision{}, err
	}

	remaining := int64(float64(c.capacity) - estimated)
	if remaining < 0 {
		remaining = 0
	}

	return next, Decision{
		Allowed:    false,
		Remaining:  remaining,
		RetryAfter: c.retryAfter(st, now, elapsed, cost),
		ResetAt:    resetAt,
	}, nil
}

// retryAfter estimates when the previous window's contribution will have
// decayed enough for cost to fit. When decay alone cannot make room (the
// current window is already too full) it falls back to the end of the
// current window.
func (c *slidingCounter) retryAfter(st dualWindowState, now time.Time, elapsed time.Duration, cost int64) time.Duration {
	headroom := float64(c.capacity-cost) - float64(st.CurCount)
	if st.PrevCount > 0 && headroom >= 0 {
		targetWeight := headroom / float64(st.PrevCount)
		if targetWeight < 1 {
			targetElapsed := time.Duration((1 - targetWeight) * float64(c.window))
			if wait := targetElapsed - elapsed; wait > 0 {
				return wait
			}
		}
	}

	wait := st.CurStart.Add(c.window).Sub(now)
	if wait < 0 {
		wait = 0
	}

	return wait
}

func (c *slidingCounter) ttl() time.Duration {
	// The previous window's count stays relevant for one extra window.
	return 2 * c.window
}
