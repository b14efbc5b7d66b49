package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_MinInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(Config{
		Now:         func() time.Time { return now },
		MinInterval: func(string) time.Duration { return time.Second },
	})
	ctx := context.Background()

	d, err := l.Acquire(ctx, "search.a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Acquire(ctx, "search.a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.Wait)

	now = now.Add(time.Second)
	d, err = l.Acquire(ctx, "search.a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_IndependentPerProvider(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(Config{Now: func() time.Time { return now }, MinInterval: func(string) time.Duration { return time.Second }})
	ctx := context.Background()

	_, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	d, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_DailyQuota(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(Config{
		Now:         func() time.Time { return now },
		MinInterval: func(string) time.Duration { return 0 },
		DailyQuota:  func(string) int64 { return 2 },
	})
	ctx := context.Background()

	d, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	d, err = l.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.QuotaExhausted)
}

func TestLimiter_DailyQuotaResetsNextDay(t *testing.T) {
	now := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	l := New(Config{
		Now:         func() time.Time { return now },
		MinInterval: func(string) time.Duration { return 0 },
		DailyQuota:  func(string) int64 { return 1 },
	})
	ctx := context.Background()

	_, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	d, err := l.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	now = now.Add(2 * time.Minute) // crosses midnight
	d, err = l.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Acquire(ctx, "a")
	assert.Error(t, err)
}
