package middleware

import (
	"context"
	"time"

	"formrpc/message"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logging records every call with its duration and outcome. Requests
// without an ID get a fresh UUID so retries of one call share an ID.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next CallFunc) CallFunc {
		return func(ctx context.Context, req *Request) (*message.Envelope, error) {
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			start := time.Now()
			env, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("request_id", req.ID),
				zap.String("method", req.Method),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			case !env.Success:
				logger.Info("call rejected", append(fields, zap.String("msg", env.Msg))...)
			default:
				logger.Debug("call ok", fields...)
			}
			return env, err
		}
	}
}
