package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-pos/internal/domain/sale"
)

func newTestStore(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotencyStore(client, Config{PendingTTL: time.Minute, TTL: time.Hour}), server
}

func TestReserveCompleteReplay(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	id, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = store.Reserve(ctx, "k1")
	require.ErrorIs(t, err, sale.ErrInProgress)

	require.NoError(t, store.Complete(ctx, "k1", "s1"))

	id, err = store.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "s1", id)

	ttl := server.TTL("pos:idem:k1")
	assert.True(t, ttl > time.Minute && ttl <= time.Hour, "ttl %v", ttl)
}

func TestRelease(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k1"))

	id, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRelease_KeepsCompleted(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "k1", "s1"))
	require.NoError(t, store.Release(ctx, "k1"))

	v, err := server.Get("pos:idem:k1")
	require.NoError(t, err)
	assert.Equal(t, "done:s1", v)
}

func TestPendingExpires(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)

	server.FastForward(2 * time.Minute)

	id, err := store.Reserve(ctx, "k1")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestReserve_Unavailable(t *testing.T) {
	store, server := newTestStore(t)
	server.Close()

	_, err := store.Reserve(context.Background(), "k1")
	require.Error(t, err)
	require.NotErrorIs(t, err, sale.ErrInProgress)
}
