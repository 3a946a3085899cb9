package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitThrottlesSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: the second call waits ~100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://papers.nips.cc/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://PAPERS.nips.cc/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(context.Background(), "https://a.test"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.test"))
}

func TestHostVariantsShareBucket(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://Papers.Nips.cc:443/x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://papers.nips.cc/y"), "same host after case and port folding")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.limiters, 1)
	assert.Contains(t, l.limiters, "papers.nips.cc")
}
