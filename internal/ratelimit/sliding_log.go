package ratelimit

import (
	"encoding/json"
	"fmt"
	"time"
)

// logEntry is one admitted request. Weight carries multi-unit costs so a
// single entry stands for cost units instead of cost duplicate timestamps.
type logEntry struct {
	At     time.Time `json:"at"`
	Weight int64     `json:"w"`
}

// logState is the persisted timestamp log for one key, ordered oldest
// first. Every entry lies within the trailing window; older ones are
// pruned before each count check.
type logState struct {
	Entries []logEntry `json:"entries"`
}

// slidingLog enforces the window exactly, with no boundary defect, at
// O(capacity) memory and pruning cost per key. Suited to small capacities
// or small key spaces.
type slidingLog struct {
	capacity int64
	window   time.Duration
}

func (l *slidingLog) advance(prev []byte, now time.Time, cost int64) ([]byte, Decision, error) {
	if cost > l.capacity {
		return nil, Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, l.capacity)
	}

	var st logState

	if prev != nil {
		if err := json.Unmarshal(prev, &st); err != nil {
			return nil, Decision{}, fmt.Errorf("decode sliding log state: %w", err)
		}
	}

	// Prune entries that have aged out of the trailing window.
	cutoff := now.Add(-l.window)
	kept := st.Entries[:0]

	var used int64

	for _, e := range st.Entries {
		if e.At.Before(cutoff) {
			continue
		}

		kept = append(kept, e)
		used += e.Weight
	}

	st.Entries = kept

	if used+cost <= l.capacity {
		st.Entries = append(st.Entries, logEntry{At: now, Weight: cost})

		next, err := json.Marshal(st)
		if err != nil {
			return nil, Decision{}, err
		}

		return next, Decision{
			Allowed:   true,
			Remaining: l.capacity - used - cost,
			ResetAt:   st.Entries[0].At.Add(l.window),
		}, nil
	}

	// Denied: the pruned log still persists. The wait is until enough of
	// the oldest entries age out for cost to fit again.
	next, err := json.Marshal(st)
	if err != nil {
		return nil, Decision{}, err
	}

	needed := used + cost - l.capacity
	retryAt := now.Add(l.window)

	var freed int64

	for _, e := range st.Entries {
		freed += e.Weight
		if freed >= needed {
			retryAt = e.At.Add(l.window)

			break
		}
	}

	wait := retryAt.Sub(now)
	if wait < 0 {
		wait = 0
	}

	resetAt := now.Add(l.window)
	if len(st.Entries) > 0 {
		resetAt = st.Entries[0].At.Add(l.window)
	}

	return next, Decision{
		Allowed:    false,
		Remaining:  l.capacity - used,
		RetryAfter: wait,
		ResetAt:    resetAt,
	}, nil
}

func (l *slidingLog) ttl() time.Duration {
	return l.window
}
