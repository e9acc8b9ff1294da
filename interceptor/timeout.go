package interceptor

import (
	"context"
	"time"

	"coropipe/rpcerr"
)

// Timeout wraps a call with a local context deadline, grounded on
// middleware/timeout_middleware.go's select-on-done-or-ctx shape. Unlike
// the teacher (a server-side middleware racing a handler goroutine
// against ctx.Done()), this never cancels the underlying wire call: per
// spec.md §4.6/§9, the protocol defines no cancel frame, so the only way
// to actually abort an in-flight request is closing the whole connection
// — the blast radius documented for the per-call timer. This interceptor
// only stops the caller from waiting past its local deadline; the reply
// (or the connection's own timeout teardown) still arrives and is
// discarded, exactly as an outer call future's cancellation is described
// in spec.md §5.
func Timeout(d time.Duration) Interceptor {
	return func(next Call) Call {
		return func(ctx context.Context, fnID uint64, args, reply any) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, fnID, args, reply)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return rpcerr.Local(rpcerr.OperationCanceled)
			}
		}
	}
}
