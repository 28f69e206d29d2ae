package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
)

// exerciseRegistry runs the ownership contract against two instances that
// share a backend.
func exerciseRegistry(t *testing.T, a, b registry.Registry, roomID string) {
	ctx := context.Background()

	require.NoError(t, a.Claim(ctx, "chat", roomID))
	require.NoError(t, a.Claim(ctx, "chat", roomID), "claim is idempotent for the owner")

	err := b.Claim(ctx, "chat", roomID)
	assert.ErrorIs(t, err, registry.ErrOwnedElsewhere)

	// Kinds are separate namespaces.
	require.NoError(t, b.Claim(ctx, "whiteboard", roomID))

	// Releasing someone else's room does nothing.
	require.NoError(t, b.Release(ctx, "chat", roomID))
	assert.ErrorIs(t, b.Claim(ctx, "chat", roomID), registry.ErrOwnedElsewhere)

	require.NoError(t, a.Release(ctx, "chat", roomID))
	require.NoError(t, b.Claim(ctx, "chat", roomID))

	require.NoError(t, b.Release(ctx, "chat", roomID))
	require.NoError(t, b.Release(ctx, "whiteboard", roomID))
}

func TestLocalRegistry(t *testing.T) {
	reg := registry.NewLocalRegistry("node-a")
	ctx := context.Background()

	require.NoError(t, reg.Claim(ctx, "chat", "r1"))
	require.NoError(t, reg.Claim(ctx, "chat", "r1"))

	owner, err := reg.Lookup(ctx, "chat", "r1")
	require.NoError(t, err)
	assert.Equal(t, "node-a", owner)

	require.NoError(t, reg.Release(ctx, "chat", "r1"))
	owner, err = reg.Lookup(ctx, "chat", "r1")
	require.NoError(t, err)
	assert.Empty(t, owner)

	require.NoError(t, reg.StartHeartbeat(ctx))
	reg.StopHeartbeat()
	assert.NoError(t, reg.Close())
}

func newRedisRegistry(t *testing.T, mr *miniredis.Miniredis, instanceID string) *registry.RedisRegistry {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := registry.NewRedisRegistryWithClient(client, registry.Config{
		RegistryPrefix:    "collab",
		KeyTTL:            30 * time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
	}, instanceID)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

const leaseKey = "collab:chat:room:room-1"

func TestRedisRegistry(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	b := newRedisRegistry(t, mr, "node-b")

	exerciseRegistry(t, a, b, "room-1")

	owner, err := a.Lookup(context.Background(), "chat", "room-1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestRedisRegistry_ClaimSetsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	ctx := context.Background()

	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	assert.Equal(t, 30*time.Second, mr.TTL(leaseKey))
	got, err := mr.Get(leaseKey)
	require.NoError(t, err)
	assert.Equal(t, "node-a", got)

	// Re-claiming refreshes the owner's lease.
	mr.FastForward(20 * time.Second)
	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	assert.Equal(t, 30*time.Second, mr.TTL(leaseKey))
}

func TestRedisRegistry_LeaseTakenOver(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	b := newRedisRegistry(t, mr, "node-b")
	ctx := context.Background()

	lost := make(chan string, 4)
	a.OnLost("chat", func(roomID string) { lost <- roomID })

	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	mr.FastForward(31 * time.Second)
	require.NoError(t, b.Claim(ctx, "chat", "room-1"))
	mr.FastForward(10 * time.Second)

	a.Refresh(ctx)

	require.Len(t, lost, 1)
	assert.Equal(t, "room-1", <-lost)
	owner, err := a.Lookup(ctx, "chat", "room-1")
	require.NoError(t, err)
	assert.Equal(t, "node-b", owner)
	assert.Equal(t, 20*time.Second, mr.TTL(leaseKey), "the new owner's lease is not extended")

	// The lease is forgotten, so it is reported once.
	a.Refresh(ctx)
	assert.Empty(t, lost)
	assert.ErrorIs(t, a.Claim(ctx, "chat", "room-1"), registry.ErrOwnedElsewhere)
}

func TestRedisRegistry_LapsedLeaseIsReported(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	ctx := context.Background()

	lost := make(chan string, 1)
	a.OnLost("chat", func(roomID string) { lost <- roomID })
	a.OnLost("whiteboard", func(string) { t.Error("wrong kind notified") })

	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	mr.FastForward(31 * time.Second)
	a.Refresh(ctx)

	require.Len(t, lost, 1)
	assert.False(t, mr.Exists(leaseKey), "a lapsed lease is not silently recreated")
}

func TestRedisRegistry_ReleasedLeaseIsNotReported(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	ctx := context.Background()

	a.OnLost("chat", func(string) { t.Error("released lease reported as lost") })

	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	require.NoError(t, a.Release(ctx, "chat", "room-1"))
	a.Refresh(ctx)
	assert.False(t, mr.Exists(leaseKey))
}

func TestRedisRegistry_HeartbeatExtendsLeases(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisRegistry(t, mr, "node-a")
	ctx := context.Background()

	require.NoError(t, a.Claim(ctx, "chat", "room-1"))
	mr.FastForward(20 * time.Second)
	require.Equal(t, 10*time.Second, mr.TTL(leaseKey))

	require.NoError(t, a.StartHeartbeat(ctx))
	assert.Eventually(t, func() bool {
		return mr.TTL(leaseKey) == 30*time.Second
	}, time.Second, 10*time.Millisecond)
	a.StopHeartbeat()
}
