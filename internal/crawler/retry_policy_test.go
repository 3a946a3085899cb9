package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, 10*time.Millisecond, 100*time.Millisecond)
	transient := NewError(KindTransientNetwork, "fetch", "u", errors.New("reset"))
	permanent := NewError(KindPermanentNetwork, "fetch", "u", errors.New("not found"))

	assert.True(t, p.ShouldRetry(transient, 0))
	assert.True(t, p.ShouldRetry(transient, 1))
	assert.False(t, p.ShouldRetry(transient, 2), "retry budget exhausted")
	assert.False(t, p.ShouldRetry(permanent, 0))
	assert.False(t, p.ShouldRetry(nil, 0))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	assert.False(t, p.ShouldRetry(errors.New("unclassified"), 0))
}

func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := range 6 {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestNewRetryPolicyNormalizes(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(-1, 0, 0)
	assert.Equal(t, 0, p.MaxRetries())
	assert.Equal(t, 250*time.Millisecond, p.baseDelay)
	assert.Equal(t, 250*time.Millisecond, p.maxDelay)
}
