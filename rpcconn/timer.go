package rpcconn

import "time"

// armCallTimer starts the per-call deadline for spec.md §4.6: on expiry
// it closes the whole connection, which conservatively cancels every
// in-flight call rather than just this one (the protocol defines no
// out-of-band cancel frame, so there is no cheaper option). The timer is
// stopped as soon as the call's response is dispatched or it's resolved
// by a broadcast (see pendingCall.dispatch/resolveLocal).
func (c *Conn) armCallTimer(seq uint32, timeout time.Duration) *time.Timer {
	if timeout <= 0 {
		return nil
	}
	return time.AfterFunc(timeout, func() {
		c.onCallTimeout(seq)
	})
}
