package rpcconn

import "time"

// DeliveryMode selects how a dispatched response reaches its waiter, per
// spec.md §3/§4.3.
type DeliveryMode int

const (
	// DeliveryOwn copies the response bytes into the waiter's own
	// storage before resolution — required whenever more than one call
	// may be outstanding, since the shared receive buffer is reused for
	// the next frame before a pipelining caller gets around to reading
	// it. Decoding happens later, in the caller's own goroutine, against
	// the owned copy.
	DeliveryOwn DeliveryMode = iota
	// DeliveryBorrow decodes immediately, inline in the read loop,
	// directly against the connection's shared receive buffer —
	// avoiding a copy. Only the single caller the connection is
	// synchronously waiting on (at most one at a time) may use it,
	// because the buffer is only valid until the read loop's next
	// iteration.
	DeliveryBorrow
)

// decodeFunc turns a response's wire-level err_code and raw body/
// attachment bytes into a caller-level value or error, per spec.md §4.8's
// response classification.
type decodeFunc func(errCode byte, body, attach []byte) (any, error)

// Result is what a Ticket resolves to. For DeliveryBorrow calls and for
// broadcast local errors, Value/Err are already final. For DeliveryOwn
// calls, deferred is true and Ticket.Await runs decode against the owned
// errCode/body/attach on the caller's own time.
type Result struct {
	Value any
	Err   error

	deferred bool
	errCode  byte
	body     []byte
	attach   []byte
}

type pendingCall struct {
	seqNum   uint32
	mode     DeliveryMode
	decode   decodeFunc
	resultCh chan Result
	timer    *time.Timer
}

func newPendingCall(seq uint32, mode DeliveryMode, decode decodeFunc) *pendingCall {
	return &pendingCall{
		seqNum:   seq,
		mode:     mode,
		decode:   decode,
		resultCh: make(chan Result, 1),
	}
}

// dispatch is called by the read loop exactly once. For DeliveryBorrow it
// decodes synchronously against the shared buffers passed in (body/attach
// alias the connection's recvBuf/attachBuf and must not be retained past
// this call). For DeliveryOwn it copies body/attach first and defers
// decode to Ticket.Await, since the shared buffers are about to be
// reused for the next frame.
func (pc *pendingCall) dispatch(errCode byte, body, attach []byte) {
	if pc.timer != nil {
		pc.timer.Stop()
	}
	if pc.mode == DeliveryBorrow {
		value, err := pc.decode(errCode, body, attach)
		pc.resultCh <- Result{Value: value, Err: err}
		return
	}
	ownBody := append([]byte(nil), body...)
	ownAttach := append([]byte(nil), attach...)
	pc.resultCh <- Result{deferred: true, errCode: errCode, body: ownBody, attach: ownAttach}
}

// resolveLocal is used for broadcast-on-error (§4.3): every remaining
// waiter receives the same local error, regardless of delivery mode.
func (pc *pendingCall) resolveLocal(err error) {
	if pc.timer != nil {
		pc.timer.Stop()
	}
	select {
	case pc.resultCh <- Result{Err: err}:
	default:
		// Already resolved (e.g. dispatch beat the broadcast); never
		// block Close()/the read loop on a full 1-buffered channel.
	}
}
