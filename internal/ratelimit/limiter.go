// Package ratelimit implements per-identity sliding-window request
// limiting for the authorization gateway.
package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a limiter check.
type Result struct {
	OK        bool
	Remaining int
	// RetryAfter is the duration until the oldest counted request
	// falls out of the window. Zero when OK.
	RetryAfter time.Duration
}

// Limiter gates requests per identity key. The key is the principal id
// when the caller is authenticated, otherwise the client IP.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
