package interceptor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logging logs the function ID, duration, and error (if any) of every
// call through structured fields, the way middleware/logging_middleware.go
// logs ServiceMethod/Duration/Error but via zap instead of log.Printf.
func Logging(logger *zap.Logger) Interceptor {
	return func(next Call) Call {
		return func(ctx context.Context, fnID uint64, args, reply any) error {
			start := time.Now()
			err := next(ctx, fnID, args, reply)
			fields := []zap.Field{
				zap.Uint64("function_id", fnID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("rpc call ok", fields...)
			}
			return err
		}
	}
}
