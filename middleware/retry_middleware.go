package middleware

import (
	"context"
	"errors"
	"time"

	"formrpc/message"
	"formrpc/transport"

	"go.uber.org/zap"
)

// Retry re-sends calls that failed at the transport level, doubling the
// delay after each attempt. Envelopes with success=false are the server's
// final word and are returned as is.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, req *Request) (*message.Envelope, error) {
			env, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !retryable(err) {
					return env, err
				}
				delay := baseDelay * time.Duration(1<<i)
				logger.Info("retrying call",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.Duration("delay", delay),
					zap.Error(err))

				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, &transport.Error{Method: req.Method, URL: req.URL, Err: ctx.Err()}
				case <-timer.C:
				}
				env, err = next(ctx, req)
			}
			return env, err
		}
	}
}

func retryable(err error) bool {
	var te *transport.Error
	return err != nil && errors.As(err, &te)
}
