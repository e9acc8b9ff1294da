package rpcconn

import (
	"math"
	"net"
	"time"

	"go.uber.org/zap"

	"coropipe/rpcerr"
	"coropipe/wire"
)

// Ticket is the inner future of the two-stage send/await shape from
// spec.md §4.8 and §9 ("an explicit Ticket handle that separates sent
// from awaited"). SendRequest/SendRequestFor return one once the request
// has been written and the waiter registered; Await blocks for the
// response. Multiple Tickets from different SendRequest calls can be
// created before any of them is awaited — that's pipelining.
type Ticket struct {
	seqNum uint32
	ch     chan Result
	decode decodeFunc
}

// Await blocks until the response for this call arrives, the connection
// is closed (in which case every outstanding Ticket resolves with the
// same broadcast error), or its timer expires. For a DeliveryOwn call,
// the response body was only copied by the read loop — Await is where
// decoding against that owned copy actually happens.
func (t *Ticket) Await() (any, error) {
	r := <-t.ch
	if r.deferred {
		return t.decode(r.errCode, r.body, r.attach)
	}
	return r.Value, r.Err
}

// SeqNum returns the sequence number assigned to this call, mostly useful
// for logging/debugging.
func (t *Ticket) SeqNum() uint32 {
	return t.seqNum
}

// SendRequest is the two-stage entry point behind Client.SendRequest and
// Client.Call: it registers the pending call, builds and writes the
// frame, starts the read loop if it isn't already running, and returns a
// Ticket. Delivery mode is decided by the is_waiting_for_response flag
// (see MarkWaiting) — callers never choose it directly, matching
// spec.md §4.3. timeout <= 0 means no per-call timer is armed.
func (c *Conn) SendRequest(fnID uint64, serializeType byte, body, attach []byte, timeout time.Duration, decode decodeFunc) (*Ticket, error) {
	c.mu.Lock()
	if c.hasClosed {
		c.mu.Unlock()
		return nil, rpcerr.Local(rpcerr.IoError)
	}
	conn := c.netConn
	c.mu.Unlock()

	if conn == nil {
		return nil, rpcerr.Local(rpcerr.NotConnected)
	}

	if len(body) > math.MaxUint32 || len(attach) > math.MaxUint32 {
		return nil, rpcerr.Local(rpcerr.MessageTooLarge)
	}

	header := make([]byte, wire.HeaderSize)

	c.mu.Lock()
	if c.hasClosed {
		c.mu.Unlock()
		return nil, rpcerr.Local(rpcerr.IoError)
	}

	seq := c.nextSeq
	c.nextSeq++
	if _, exists := c.pending[seq]; exists {
		c.mu.Unlock()
		c.logger.Error("sequence number collision, closing connection", zap.Uint32("seq", seq))
		c.Close()
		return nil, rpcerr.Local(rpcerr.SerialNumberConflict)
	}

	mode := DeliveryOwn
	if c.isWaitingForResponse {
		mode = DeliveryBorrow
	}
	c.isWaitingForResponse = false

	pc := newPendingCall(seq, mode, decode)
	pc.timer = c.armCallTimer(seq, timeout)
	c.pending[seq] = pc
	needRecvLoop := !c.isRecving
	if needRecvLoop {
		c.isRecving = true
	}
	c.mu.Unlock()

	wire.EncodeRequestHeader(header, fnID, serializeType, seq, uint32(len(body)), uint32(len(attach)))

	if err := writeFrame(conn, header, body, attach); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		if pc.timer != nil {
			pc.timer.Stop()
		}
		c.closeWithReason(false)
		return nil, c.localIOError()
	}

	if needRecvLoop {
		go c.recvLoop(conn)
	}

	return &Ticket{seqNum: seq, ch: pc.resultCh, decode: decode}, nil
}

// MarkWaiting records that the very next SendRequest call is made by a
// caller who will Await its Ticket immediately and synchronously
// (Client.Call/CallFor), making it eligible for DeliveryBorrow per
// spec.md §4.3. SendRequest/SendRequestFor (the pipelining entry points)
// never call this, so they always register DeliveryOwn entries.
func (c *Conn) MarkWaiting() {
	c.mu.Lock()
	c.isWaitingForResponse = true
	c.mu.Unlock()
}

// writeFrame writes one complete frame: the header, then either just the
// body (no attachment) or the body and attachment as a two-segment
// scatter/gather write via net.Buffers. This is C5 — a single write is
// never retried; the caller reconnects.
func writeFrame(conn net.Conn, header, body, attach []byte) error {
	if len(attach) == 0 {
		buffers := net.Buffers{header, body}
		_, err := buffers.WriteTo(conn)
		return err
	}
	buffers := net.Buffers{header, body, attach}
	_, err := buffers.WriteTo(conn)
	return err
}

func (c *Conn) onCallTimeout(seq uint32) {
	c.mu.Lock()
	_, stillPending := c.pending[seq]
	c.mu.Unlock()
	if !stillPending {
		return
	}
	c.logger.Warn("per-call timer expired, closing connection", zap.Uint32("seq", seq))
	c.closeWithReason(true)
}
