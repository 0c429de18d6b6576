package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, mr, cleanup
}

func newTestRedisLimiter(client *redis.Client, perMinute, perDay int, start time.Time) (*RedisLimiter, *fakeClock) {
	clock := &fakeClock{now: start}
	l := NewRedisLimiter(client, Config{PerMinute: perMinute, PerDay: perDay, Location: time.UTC}, "test:extract")
	l.now = clock.Now
	return l, clock
}

func TestRedisLimiter_MinuteWindow(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	l, clock := newTestRedisLimiter(client, 10, 100, time.Date(2024, 1, 24, 10, 0, 0, 0, time.UTC))

	for i := 0; i < 10; i++ {
		d, err := l.CheckAndReserve(ctx)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d should be allowed", i+1)
		clock.Advance(time.Second)
	}

	d, err := l.CheckAndReserve(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonMinute, d.Limit)

	clock.Advance(51 * time.Second)
	d, err = l.CheckAndReserve(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiter_DailyCapAndReset(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	l, clock := newTestRedisLimiter(client, 10, 3, time.Date(2024, 1, 24, 23, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndReserve(ctx)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		clock.Advance(2 * time.Minute)
	}

	d, err := l.CheckAndReserve(ctx)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDaily, d.Limit)

	clock.Advance(time.Hour)
	d, err = l.CheckAndReserve(ctx)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	status, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.DailyUsed)
	assert.Equal(t, "2024-01-25", status.ResetDate)
}

func TestRedisLimiter_SharedAcrossInstances(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	start := time.Date(2024, 1, 24, 10, 0, 0, 0, time.UTC)
	a, _ := newTestRedisLimiter(client, 2, 100, start)
	b, _ := newTestRedisLimiter(client, 2, 100, start)

	d, _ := a.CheckAndReserve(ctx)
	assert.True(t, d.Allowed)
	d, _ = b.CheckAndReserve(ctx)
	assert.True(t, d.Allowed)
	d, _ = a.CheckAndReserve(ctx)
	assert.False(t, d.Allowed)
}

func TestRedisLimiter_Status(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	l, _ := newTestRedisLimiter(client, 10, 100, time.Date(2024, 1, 24, 10, 0, 0, 0, time.UTC))

	status, err := l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.MinuteUsed)
	assert.Equal(t, 0, status.DailyUsed)

	_, err = l.CheckAndReserve(ctx)
	require.NoError(t, err)

	status, err = l.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.MinuteUsed)
	assert.Equal(t, 1, status.DailyUsed)
	assert.Equal(t, 10, status.MinuteLimit)
	assert.Equal(t, 100, status.DailyLimit)
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	l, _ := newTestRedisLimiter(client, 10, 100, time.Now())
	mr.Close()

	_, err := l.CheckAndReserve(context.Background())
	assert.Error(t, err)
}
