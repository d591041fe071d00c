package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisAttemptStore(t *testing.T) (*RedisAttemptStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisAttemptStore(client), mr
}

func TestRedisAttemptStore_TryCount(t *testing.T) {
	store, mr := newRedisAttemptStore(t)
	ctx := context.Background()

	n, err := store.GetTryCount(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, err = store.IncrementTryCount(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	got, err := mr.Get("webmention:tries:42")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	require.NoError(t, store.ClearTryCount(ctx, "42"))
	assert.False(t, mr.Exists("webmention:tries:42"))
}

func TestRedisAttemptStore_PendingFlags(t *testing.T) {
	store, _ := newRedisAttemptStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkPending(ctx, "b"))
	require.NoError(t, store.MarkPending(ctx, "a"))
	require.NoError(t, store.MarkPending(ctx, "a"))

	ids, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.ClearPending(ctx, "a"))
	ids, err = store.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestRedisAttemptStore_Pung(t *testing.T) {
	store, _ := newRedisAttemptStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddPing(ctx, "42", "https://b.example/"))
	require.NoError(t, store.AddPing(ctx, "42", "https://a.example/"))
	require.NoError(t, store.AddPing(ctx, "42", "https://a.example/"))

	targets, err := store.GetPung(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, targets)

	empty, err := store.GetPung(ctx, "7")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
