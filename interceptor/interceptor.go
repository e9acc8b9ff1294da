// Package interceptor adapts the retrieval pack's middleware chain to
// client-side calls. It is grounded on middleware/middleware.go's
// HandlerFunc/Middleware/Chain shape, with the request/response types
// swapped for an (fnID, args, reply) call tuple and a returned error,
// since this client has no server-side message.RPCMessage to wrap.
package interceptor

import "context"

// Call is a reduced form of client.Client.CallFor (no per-call timeout,
// no attachments): encode args, send, decode into reply, return an error
// classified per spec.md §4.8.
type Call func(ctx context.Context, fnID uint64, args, reply any) error

// Interceptor wraps a Call with cross-cutting behavior (logging, retry,
// rate limiting, a local deadline) without changing its signature.
type Interceptor func(next Call) Call

// Chain composes interceptors so the first one listed runs outermost,
// matching middleware.Chain's left-to-right wrapping order.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next Call) Call {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}
