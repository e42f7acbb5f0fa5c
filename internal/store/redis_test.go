package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/ratelimit-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return store.NewRedisStore(client), mr
}

func TestRedisStore_Get(t *testing.T) {
	t.Run("returns nil for absent key", func(t *testing.T) {
		s, _ := newRedisStore(t)

		val, err := s.Get(context.Background(), "missing")

		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("returns stored value", func(t *testing.T) {
		s, _ := newRedisStore(t)

		ok, err := s.CompareAndSwap(context.Background(), "key1", nil, []byte("state"), 0)
		require.NoError(t, err)
		require.True(t, ok)

		val, err := s.Get(context.Background(), "key1")

		require.NoError(t, err)
		assert.Equal(t, []byte("state"), val)
	})
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	t.Run("creates when key absent", func(t *testing.T) {
		s, _ := newRedisStore(t)

		ok, err := s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)

		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects create when key exists", func(t *testing.T) {
		s, _ := newRedisStore(t)

		_, _ = s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)
		ok, err := s.CompareAndSwap(context.Background(), "key1", nil, []byte("v2"), 0)

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("swaps when expected matches", func(t *testing.T) {
		s, _ := newRedisStore(t)

		_, _ = s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)
		ok, err := s.CompareAndSwap(context.Background(), "key1", []byte("v1"), []byte("v2"), 0)

		require.NoError(t, err)
		assert.True(t, ok)

		val, _ := s.Get(context.Background(), "key1")
		assert.Equal(t, []byte("v2"), val)
	})

	t.Run("rejects swap when expected is stale", func(t *testing.T) {
		s, _ := newRedisStore(t)

		_, _ = s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)
		_, _ = s.CompareAndSwap(context.Background(), "key1", []byte("v1"), []byte("v2"), 0)

		ok, err := s.CompareAndSwap(context.Background(), "key1", []byte("v1"), []byte("v3"), 0)

		require.NoError(t, err)
		assert.False(t, ok)

		val, _ := s.Get(context.Background(), "key1")
		assert.Equal(t, []byte("v2"), val, "losing swap must not clobber the winner")
	})

	t.Run("expires keys after ttl", func(t *testing.T) {
		s, mr := newRedisStore(t)

		_, _ = s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), time.Minute)

		mr.FastForward(time.Minute + time.Second)

		val, err := s.Get(context.Background(), "key1")

		require.NoError(t, err)
		assert.Nil(t, val, "key should expire after its ttl")
	})

	t.Run("returns error when redis is down", func(t *testing.T) {
		s, mr := newRedisStore(t)
		mr.Close()

		_, err := s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)

		assert.Error(t, err)
	})
}

func TestRedisStore_Prefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := store.NewRedisStoreWithPrefix(client, "custom:")

	ok, err := s.CompareAndSwap(context.Background(), "key1", nil, []byte("v1"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, mr.Exists("custom:key1"), "keys should live under the custom prefix")
}
