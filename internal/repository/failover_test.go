package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailoverGuard_UsesPrimaryWhenHealthy(t *testing.T) {
	guard, _ := setupRedisGuard(t, time.Hour)
	logger := zerolog.Nop()
	failover := NewFailoverGuard(guard, NewMemoryGuard(time.Hour), &logger)
	ctx := context.Background()

	fresh, err := failover.CheckAndMark(ctx, "SM200")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = failover.CheckAndMark(ctx, "SM200")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestFailoverGuard_FallsBackWhenPrimaryDies(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zerolog.Nop()
	failover := NewFailoverGuard(
		NewRedisGuard(client, time.Hour),
		NewMemoryGuard(time.Hour),
		&logger,
	)
	ctx := context.Background()

	fresh, err := failover.CheckAndMark(ctx, "SM201")
	require.NoError(t, err)
	assert.True(t, fresh)

	// Primary goes away; the wrapper must keep serving from memory.
	mr.Close()

	fresh, err = failover.CheckAndMark(ctx, "SM202")
	require.NoError(t, err)
	assert.True(t, fresh)

	// Dedup still works within the degraded guard.
	fresh, err = failover.CheckAndMark(ctx, "SM202")
	require.NoError(t, err)
	assert.False(t, fresh)

	allowed, err := failover.CheckRateLimit(ctx, "contact-9", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = failover.CheckRateLimit(ctx, "contact-9", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestFailoverGuard_RateLimitOnPrimary(t *testing.T) {
	guard, _ := setupRedisGuard(t, time.Hour)
	logger := zerolog.Nop()
	failover := NewFailoverGuard(guard, NewMemoryGuard(time.Hour), &logger)
	ctx := context.Background()

	allowed, err := failover.CheckRateLimit(ctx, "contact-1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = failover.CheckRateLimit(ctx, "contact-1", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}
