package interceptor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coropipe/rpcerr"
)

// Retry retries a call on local transport failures, grounded on
// middleware/retry_middleware.go's exponential-backoff loop. The teacher
// matches retryable errors by substring ("timeout", "connection refused")
// against message.RPCMessage.Error; here the same decision is made
// against rpcerr.Errno, which this module has as a stable, non-stringly
// typed classification. Only IoError and TimedOut are retried — both are
// local, connection-closing failures where a fresh call on the same
// (already-closed) connection simply fails again, so a caller wiring this
// in is expected to pair it with a reconnect step between attempts; this
// interceptor itself never reconnects, it only re-invokes next. The
// decision looks at the error code alone: a server-originated RpcError
// whose code equals IoError or TimedOut is retried the same way.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Call) Call {
		return func(ctx context.Context, fnID uint64, args, reply any) error {
			err := next(ctx, fnID, args, reply)
			for i := 0; i < maxRetries; i++ {
				if err == nil {
					return nil
				}
				if !rpcerr.Is(err, rpcerr.IoError) && !rpcerr.Is(err, rpcerr.TimedOut) {
					return err
				}
				logger.Warn("retrying rpc call",
					zap.Uint64("function_id", fnID),
					zap.Int("attempt", i+1),
					zap.Error(err),
				)
				select {
				case <-time.After(baseDelay * (1 << i)):
				case <-ctx.Done():
					return ctx.Err()
				}
				err = next(ctx, fnID, args, reply)
			}
			return err
		}
	}
}
