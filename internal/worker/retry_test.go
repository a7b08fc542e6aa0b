package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 8*time.Second, policy.NextDelay(3))
	assert.Equal(t, 32*time.Second, policy.NextDelay(5))

	// Clamped at MaxDelay.
	assert.Equal(t, time.Minute, policy.NextDelay(6))
	assert.Equal(t, time.Minute, policy.NextDelay(20))
}

func TestRetryPolicy_NextDelay_ZeroValue(t *testing.T) {
	var policy RetryPolicy

	assert.Equal(t, time.Second, policy.NextDelay(0))
	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}

	assert.False(t, policy.Exhausted(2))
	assert.True(t, policy.Exhausted(3))
	assert.True(t, policy.Exhausted(4))
}
