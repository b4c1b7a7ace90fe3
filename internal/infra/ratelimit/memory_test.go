package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryLimiterAllowsBurstThenDenies(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.now})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.ResetAt.After(clock.t))

	other, err := l.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	clock.advance(21 * time.Second)
	d, err = l.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one token refilled")
}

func TestMemoryLimiterDisabled(t *testing.T) {
	l := NewMemoryLimiter(MemoryLimiterConfig{})
	d, err := l.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterCapacity(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(MemoryLimiterConfig{Now: clock.now, MaxKeys: 1})
	ctx := context.Background()

	_, err := l.Allow(ctx, "a", 1, time.Second)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "b", 1, time.Second)
	assert.Error(t, err)

	clock.advance(2 * time.Second)
	_, err = l.Allow(ctx, "b", 1, time.Second)
	assert.NoError(t, err, "idle buckets are collected")
}
