package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGuard_CheckAndMark(t *testing.T) {
	guard := NewMemoryGuard(50 * time.Millisecond)
	ctx := context.Background()

	fresh, err := guard.CheckAndMark(ctx, "SM100")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = guard.CheckAndMark(ctx, "SM100")
	require.NoError(t, err)
	assert.False(t, fresh)

	time.Sleep(60 * time.Millisecond)

	fresh, err = guard.CheckAndMark(ctx, "SM100")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryGuard_SweepsExpiredEntries(t *testing.T) {
	guard := NewMemoryGuard(20 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fresh, err := guard.CheckAndMark(ctx, fmt.Sprintf("SM20%d", i))
		require.NoError(t, err)
		assert.True(t, fresh)
	}
	_, err := guard.CheckRateLimit(ctx, "contact-9", 10, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	// The next check sweeps everything whose ttl has passed; ids that
	// never come back must not pin map entries forever.
	fresh, err := guard.CheckAndMark(ctx, "SM300")
	require.NoError(t, err)
	assert.True(t, fresh)

	count := 0
	guard.seen.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count)

	count = 0
	guard.rateLimits.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 0, count)
}

func TestMemoryGuard_CheckRateLimit(t *testing.T) {
	guard := NewMemoryGuard(time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := guard.CheckRateLimit(ctx, "contact-1", 2, 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := guard.CheckRateLimit(ctx, "contact-1", 2, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, err = guard.CheckRateLimit(ctx, "contact-1", 2, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, allowed)
}
