package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestLocker_AcquireRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client, 5*time.Second)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "rule-1", "fp-1")
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, locker.Release(ctx, lease))

	// Should be re-acquirable immediately after release.
	lease2, err := locker.Acquire(ctx, "rule-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, locker.Release(ctx, lease2))
}

func TestLocker_Contended(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client, 5*time.Second)

	lease, err := locker.Acquire(context.Background(), "rule-1", "fp-1")
	require.NoError(t, err)
	defer locker.Release(context.Background(), lease)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "rule-1", "fp-1")
	assert.ErrorIs(t, err, ErrLockContended)
}

func TestLocker_DifferentFingerprintsDontContend(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client, 5*time.Second)
	ctx := context.Background()

	lease1, err := locker.Acquire(ctx, "rule-1", "fp-1")
	require.NoError(t, err)
	defer locker.Release(ctx, lease1)

	lease2, err := locker.Acquire(ctx, "rule-1", "fp-2")
	require.NoError(t, err)
	defer locker.Release(ctx, lease2)
}

func TestLocker_ReleaseDoesNotClobberReacquiredLease(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	locker := NewLocker(client, 5*time.Second)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "rule-1", "fp-1")
	require.NoError(t, err)

	// Simulate the lease's TTL expiring and another worker acquiring it.
	mr.FastForward(6 * time.Second)
	other, err := locker.Acquire(ctx, "rule-1", "fp-1")
	require.NoError(t, err)

	// The original (now-stale) lease's Release must not delete the new lease.
	require.NoError(t, locker.Release(ctx, lease))

	exists, err := client.Exists(ctx, lockKey("rule-1", "fp-1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, locker.Release(ctx, other))
}
