package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenDeny(t *testing.T) {
	l := NewLimiter(1, 3)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res := l.Allow("user:a", now)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	denied := l.Allow("user:a", now)
	assert.False(t, denied.Allowed)
	assert.Equal(t, time.Second, denied.RetryAfter)

	// other keys have their own bucket
	assert.True(t, l.Allow("user:b", now).Allowed)

	// refill after one interval
	assert.True(t, l.Allow("user:a", now.Add(time.Second)).Allowed)
}

func TestLimiter_DeniedRequestDoesNotSpendToken(t *testing.T) {
	l := NewLimiter(1, 1)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	require.True(t, l.Allow("k", now).Allowed)
	for i := 0; i < 5; i++ {
		require.False(t, l.Allow("k", now.Add(100*time.Millisecond)).Allowed)
	}
	assert.True(t, l.Allow("k", now.Add(time.Second)).Allowed)
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(5, 5)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l.Allow("old", now)
	l.Allow("fresh", now.Add(9*time.Minute))

	remaining := l.Sweep(now.Add(11*time.Minute), DefaultIdleTTL)
	assert.Equal(t, 1, remaining)
}
