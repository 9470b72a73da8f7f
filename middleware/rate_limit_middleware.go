package middleware

import (
	"context"
	"fmt"

	"formrpc/message"

	"golang.org/x/time/rate"
)

// RateLimit paces outgoing calls with a token bucket. Unlike a server-side
// limiter it waits for a token instead of rejecting; the wait fails only when
// ctx ends or its deadline cannot be met.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, req *Request) (*message.Envelope, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			return next(ctx, req)
		}
	}
}
