package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(max int, window time.Duration, start time.Time) (*SlidingWindow, *time.Time) {
	sw := NewSlidingWindow(max, window)
	clock := start
	sw.now = func() time.Time { return clock }
	return sw, &clock
}

func TestSlidingWindowAdmitsExactlyMax(t *testing.T) {
	sw, _ := newTestWindow(3, time.Minute, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := sw.Allow(ctx, "user_a")
		require.NoError(t, err)
		assert.True(t, res.OK, "request %d should pass", i+1)
	}

	res, err := sw.Allow(ctx, "user_a")
	require.NoError(t, err)
	assert.False(t, res.OK, "request over the limit should be rejected")
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestSlidingWindowReadmitsAfterWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sw, clock := newTestWindow(2, time.Minute, start)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := sw.Allow(ctx, "user_a")
		require.NoError(t, err)
		require.True(t, res.OK)
	}
	res, err := sw.Allow(ctx, "user_a")
	require.NoError(t, err)
	require.False(t, res.OK)

	*clock = start.Add(time.Minute + time.Second)
	res, err = sw.Allow(ctx, "user_a")
	require.NoError(t, err)
	assert.True(t, res.OK, "request after the window elapsed should pass")
}

func TestSlidingWindowSlides(t *testing.T) {
	// A burst at a window boundary must stay bounded by the max, not
	// doubled the way a fixed bucket would allow.
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sw, clock := newTestWindow(2, time.Minute, start)
	ctx := context.Background()

	res, _ := sw.Allow(ctx, "user_a")
	require.True(t, res.OK)
	*clock = start.Add(59 * time.Second)
	res, _ = sw.Allow(ctx, "user_a")
	require.True(t, res.OK)

	*clock = start.Add(61 * time.Second)
	// First hit expired, second still counted: one slot free.
	res, _ = sw.Allow(ctx, "user_a")
	assert.True(t, res.OK)
	res, _ = sw.Allow(ctx, "user_a")
	assert.False(t, res.OK)
}

func TestSlidingWindowKeysAreIndependent(t *testing.T) {
	sw, _ := newTestWindow(1, time.Minute, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, _ := sw.Allow(ctx, "user_a")
	require.True(t, res.OK)
	res, _ = sw.Allow(ctx, "user_a")
	require.False(t, res.OK)

	res, _ = sw.Allow(ctx, "user_b")
	assert.True(t, res.OK, "a saturated key must not affect other keys")
}

func TestSlidingWindowConcurrentAccess(t *testing.T) {
	sw := NewSlidingWindow(50, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := sw.Allow(ctx, "shared")
			if err == nil && res.OK {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}
