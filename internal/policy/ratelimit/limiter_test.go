package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHostsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestSetHostDelayOnlySlowsDown(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	l.SetHostDelay("https://slow.example/robots.txt", 150*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://slow.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://slow.example/2"))
	require.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)

	// unlimited hosts are unaffected
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://fast.example/1"))
	require.NoError(t, l.Wait(ctx, "https://fast.example/2"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://x.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://x.example/"))
}
