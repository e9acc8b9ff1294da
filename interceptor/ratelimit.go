package interceptor

import (
	"context"

	"golang.org/x/time/rate"

	"coropipe/rpcerr"
)

// RateLimit throttles outgoing calls with a token bucket, grounded on
// middleware/rate_limit_middleware.go's RateLimitMiddleware. A call that
// finds no token available fails locally without ever touching the
// connection — there is no server-side concept of this limiter.
func RateLimit(r float64, burst int) Interceptor {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Call) Call {
		return func(ctx context.Context, fnID uint64, args, reply any) error {
			if !limiter.Allow() {
				return rpcerr.Local(rpcerr.OperationCanceled)
			}
			return next(ctx, fnID, args, reply)
		}
	}
}
