package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryLimiter keeps hit timestamps per key in process memory.
type InMemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewInMemoryLimiter() *InMemoryLimiter {
	return &InMemoryLimiter{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (l *InMemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.windows[key], now.Add(-window))

	if len(hits) >= limit {
		l.windows[key] = hits
		oldest := now
		if len(hits) > 0 {
			oldest = hits[0]
		}
		return Result{
			Limit:      limit,
			ResetAt:    oldest.Add(window),
			RetryAfter: retryAfter(oldest, window, now),
		}, nil
	}

	hits = append(hits, now)
	l.windows[key] = hits
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(hits),
		ResetAt:   hits[0].Add(window),
	}, nil
}

// prune drops timestamps at or before cutoff. hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(hits); i++ {
		if hits[i].After(cutoff) {
			break
		}
	}
	return hits[i:]
}
