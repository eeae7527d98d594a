package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, NewDefaultRetryer(nil)), mr
}

func TestRedisStore_CreateThenUpdate(t *testing.T) {
	rs, _ := newTestRedisStore(t)
	ctx := context.Background()

	v1, err := rs.CompareAndSwap(ctx, "k1", []byte("a"), 0, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)

	rec, ok, err := rs.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(rec.Value))

	v2, err := rs.CompareAndSwap(ctx, "k1", []byte("b"), v1, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(2), v2)
}

func TestRedisStore_ConflictOnStaleVersion(t *testing.T) {
	rs, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, err := rs.CompareAndSwap(ctx, "k2", []byte("a"), 0, time.Time{})
	require.NoError(t, err)

	_, err = rs.CompareAndSwap(ctx, "k2", []byte("b"), 99, time.Time{})
	require.Error(t, err)
}

func TestRedisStore_ExpiryViaTTL(t *testing.T) {
	rs, mr := newTestRedisStore(t)
	ctx := context.Background()

	_, err := rs.CompareAndSwap(ctx, "k3", []byte("a"), 0, time.Now().Add(time.Minute))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, ok, err := rs.Get(ctx, "k3")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_Keys(t *testing.T) {
	rs, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, _ = rs.CompareAndSwap(ctx, "budget:tenant:acme:b1", []byte("a"), 0, time.Time{})
	_, _ = rs.CompareAndSwap(ctx, "budget:tenant:other:b1", []byte("a"), 0, time.Time{})

	keys, err := rs.Keys(ctx, "budget:tenant:acme:*")
	require.NoError(t, err)
	require.Equal(t, []string{"budget:tenant:acme:b1"}, keys)
}
