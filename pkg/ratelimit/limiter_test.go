package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Burst(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	defer l.Close()
	ctx := context.Background()
	policy := Policy{RPM: 1, Burst: 2}

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "0xa", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "0xa", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "0xb", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestMemoryLimiter_Refill(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	defer l.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 1}

	ok, _ := l.Allow(ctx, "k", policy, 1)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k", policy, 1)
	assert.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = l.Allow(ctx, "k", policy, 1)
	assert.True(t, ok)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l := NewMemoryLimiter(time.Minute)
	defer l.Close()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "k", Policy{RPM: 60, Burst: 1}, 1)
	assert.Equal(t, 1, l.Len())

	now = now.Add(2 * time.Minute)
	l.sweep()
	assert.Zero(t, l.Len())
}

func TestPolicyRetryAfter(t *testing.T) {
	assert.Equal(t, 1, Policy{RPM: 120}.RetryAfter())
	assert.Equal(t, 6, Policy{RPM: 10}.RetryAfter())
	assert.Equal(t, 1, Policy{}.RetryAfter())
}

// TestRedisLimiter_Integration requires a running Redis and is skipped
// otherwise.
func TestRedisLimiter_Integration(t *testing.T) {
	l := NewRedisLimiter("localhost:6379", "", 0)
	defer l.Close()
	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	key := "test-" + time.Now().Format(time.RFC3339Nano)
	policy := Policy{RPM: 60, Burst: 1}

	ok, err := l.Allow(ctx, key, policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, key, policy, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, err = l.Allow(ctx, key, policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
