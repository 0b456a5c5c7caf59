package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	limiter := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "https://forum.example/page"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	limiter := New(Config{RequestsPerSecond: 50, Burst: 1})
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(context.Background(), "https://forum.example/page"))
	}
	// Four paced waits at 20ms each.
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestHostsLimitedIndependently(t *testing.T) {
	t.Parallel()

	limiter := New(Config{RequestsPerSecond: 1, Burst: 1})
	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background(), "https://a.example/"))
	require.NoError(t, limiter.Wait(context.Background(), "https://b.example/"))
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	limiter := New(Config{RequestsPerSecond: 0.1, Burst: 1})
	require.NoError(t, limiter.Wait(context.Background(), "https://slow.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, limiter.Wait(ctx, "https://slow.example/"))
}
