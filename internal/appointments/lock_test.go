package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisSlotLocker_Exclusive(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Minute)
	ctx := context.Background()
	slot := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	release, err := locker.Acquire(ctx, "d-1", slot)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "d-1", slot)
	assert.True(t, errors.Is(err, ErrLockHeld))

	other, err := locker.Acquire(ctx, "d-1", slot.Add(30*time.Minute))
	require.NoError(t, err)
	other(ctx)

	release(ctx)
	again, err := locker.Acquire(ctx, "d-1", slot)
	require.NoError(t, err)
	again(ctx)
}

func TestRedisSlotLocker_ReleaseKeepsForeignToken(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewRedisSlotLocker(client, time.Second)
	ctx := context.Background()
	slot := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	release, err := locker.Acquire(ctx, "d-1", slot)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	_, err = locker.Acquire(ctx, "d-1", slot)
	require.NoError(t, err)

	release(ctx)
	_, err = locker.Acquire(ctx, "d-1", slot)
	assert.True(t, errors.Is(err, ErrLockHeld))
}

func TestRedisSlotLocker_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	locker := NewRedisSlotLocker(client, time.Second)
	_, err = locker.Acquire(context.Background(), "d-1", time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockHeld))
}
