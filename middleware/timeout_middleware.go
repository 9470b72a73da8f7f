package middleware

import (
	"context"
	"errors"
	"time"

	"formrpc/message"
	"formrpc/transport"
)

var ErrTimeout = errors.New("request timed out")

// Timeout bounds each call. An expired or cancelled call fails with a
// *transport.Error; the underlying request is abandoned, not
// awaited, once the deadline passes.
func Timeout(timeout time.Duration) Middleware {
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, req *Request) (*message.Envelope, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				env *message.Envelope
				err error
			}
			done := make(chan result, 1)
			go func() {
				env, err := next(ctx, req)
				done <- result{env, err}
			}()

			select {
			case r := <-done:
				return r.env, r.err
			case <-ctx.Done():
				cause := ctx.Err()
				if errors.Is(cause, context.DeadlineExceeded) {
					cause = ErrTimeout
				}
				return nil, &transport.Error{Method: req.Method, URL: req.URL, Err: cause}
			}
		}
	}
}
