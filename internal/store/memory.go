package store

import (
	"bytes"
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/serroba/ratelimit-go/internal/clock"
	"github.com/serroba/ratelimit-go/internal/ratelimit"
)

const shardCount = 32

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memoryShard struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

// MemoryStore is an in-process implementation of ratelimit.Store. Locking
// is striped by key hash, so operations on distinct keys almost never
// contend and there is no single global lock.
//
// State is local to the process; use RedisStore to enforce one global
// budget across replicas.
type MemoryStore struct {
	clk    clock.Clock
	shards [shardCount]*memoryShard
}

// NewMemoryStore creates an empty MemoryStore. A nil clock means the
// system clock; tests inject a manual one to control TTL expiry.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System()
	}

	s := &MemoryStore{clk: clk}
	for i := range s.shards {
		s.shards[i] = &memoryShard{items: make(map[string]memoryEntry)}
	}

	return s
}

func (s *MemoryStore) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return s.shards[h.Sum32()%shardCount]
}

// Get returns the stored value for key, or nil when absent or expired.
// Expired entries are deleted lazily on read.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return nil, nil
	}

	if !e.expiresAt.IsZero() && !s.clk.Now().Before(e.expiresAt) {
		delete(sh.items, key)

		return nil, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)

	return out, nil
}

// CompareAndSwap atomically replaces the value for key when the stored
// value still equals expected (nil meaning "absent"), refreshing the TTL.
func (s *MemoryStore) CompareAndSwap(
	_ context.Context, key string, expected, next []byte, ttl time.Duration,
) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var current []byte

	if e, ok := sh.items[key]; ok {
		if e.expiresAt.IsZero() || s.clk.Now().Before(e.expiresAt) {
			current = e.value
		} else {
			delete(sh.items, key)
		}
	}

	switch {
	case expected == nil:
		if current != nil {
			return false, nil
		}
	case current == nil || !bytes.Equal(current, expected):
		return false, nil
	}

	e := memoryEntry{value: append([]byte(nil), next...)}
	if ttl > 0 {
		e.expiresAt = s.clk.Now().Add(ttl)
	}

	sh.items[key] = e

	return true, nil
}

// Compile-time check.
var _ ratelimit.Store = (*MemoryStore)(nil)
