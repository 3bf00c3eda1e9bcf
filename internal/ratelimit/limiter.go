// Package ratelimit caps how often a caller may hit an endpoint using a
// sliding window per key.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one Allow decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is only set when the request was denied.
	RetryAfter time.Duration
}

// Limiter records a hit for key and reports whether it fits within limit
// hits per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}
