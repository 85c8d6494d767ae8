package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned for dispatches rejected by RateLimit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects dispatches beyond r per second with bursts of burst,
// using a token bucket. Rejected requests get an error Response; the
// connection survives.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, inv)
		}
	}
}

// MaxInFlight bounds the number of concurrently executing dispatch units
// sharing this middleware. Excess dispatches block until a slot frees or
// their context is done. The default server configuration is unbounded;
// this is the explicit opt-in bound.
func MaxInFlight(n int) Middleware {
	sem := make(chan struct{}, n)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) (any, error) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			defer func() { <-sem }()
			return next(ctx, inv)
		}
	}
}
