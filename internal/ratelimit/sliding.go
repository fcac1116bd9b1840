package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type shard struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// SlidingWindow is an in-memory sliding-window limiter. State is
// sharded by key so concurrent checks for different identities never
// contend on a single lock. Per-process only; use RedisLimiter when
// multiple instances must share one budget.
type SlidingWindow struct {
	max    int
	window time.Duration
	now    func() time.Time
	shards [shardCount]*shard
}

// NewSlidingWindow builds a limiter admitting at most max requests per
// key within the trailing window.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	sw := &SlidingWindow{max: max, window: window, now: time.Now}
	for i := range sw.shards {
		sw.shards[i] = &shard{hits: make(map[string][]time.Time)}
	}
	return sw
}

func (sw *SlidingWindow) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return sw.shards[h.Sum32()%shardCount]
}

// Allow prunes timestamps older than the window, rejects when the
// remaining count has reached the maximum, and otherwise records the
// request. The error return is always nil; it exists to satisfy the
// Limiter contract shared with store-backed implementations.
func (sw *SlidingWindow) Allow(_ context.Context, key string) (Result, error) {
	now := sw.now()
	cutoff := now.Add(-sw.window)

	s := sw.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[key]
	kept := hits[:0]
	for _, ts := range hits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= sw.max {
		s.hits[key] = kept
		return Result{OK: false, RetryAfter: kept[0].Add(sw.window).Sub(now)}, nil
	}

	kept = append(kept, now)
	s.hits[key] = kept
	return Result{OK: true, Remaining: sw.max - len(kept)}, nil
}
