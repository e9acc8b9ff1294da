package rpcconn

import (
	"io"
	"net"

	"go.uber.org/zap"

	"coropipe/rpcerr"
	"coropipe/wire"
)

// recvLoop is the single demultiplexing read loop (C4). It runs in its
// own goroutine, started lazily by the first SendRequest call that finds
// no loop already running, and exits when the pending table drains to
// empty or an I/O/protocol error occurs. Grounded on
// transport/client_transport.go's recvLoop: one reader, sequential
// frame parsing, dispatch-by-seq, broadcast-and-exit on any failure.
func (c *Conn) recvLoop(conn net.Conn) {
	headerBuf := make([]byte, wire.HeaderSize)

	for {
		header, err := wire.ReadResponseHeader(conn, headerBuf)
		if err != nil {
			c.failRecvLoop(conn, timeoutAwareError(c))
			return
		}

		c.mu.Lock()
		if cap(c.recvBuf) < int(header.BodyLength) {
			c.recvBuf = make([]byte, header.BodyLength)
		} else {
			c.recvBuf = c.recvBuf[:header.BodyLength]
		}
		recvBuf := c.recvBuf
		c.mu.Unlock()

		var attachBuf []byte
		if header.AttachLength == 0 {
			if _, err := io.ReadFull(conn, recvBuf); err != nil {
				c.failRecvLoop(conn, timeoutAwareError(c))
				return
			}
			c.mu.Lock()
			c.attachBuf = c.attachBuf[:0]
			c.mu.Unlock()
		} else {
			c.mu.Lock()
			if cap(c.attachBuf) < int(header.AttachLength) {
				c.attachBuf = make([]byte, header.AttachLength)
			} else {
				c.attachBuf = c.attachBuf[:header.AttachLength]
			}
			attachBuf = c.attachBuf
			c.mu.Unlock()

			// Go's net.Conn has no readv equivalent to match the two
			// segments this is framed as on the wire; read body then
			// attachment as two back-to-back exact reads, satisfying
			// the same "read exactly body_length+attach_length bytes"
			// invariant from spec.md §3.
			if _, err := io.ReadFull(conn, recvBuf); err != nil {
				c.failRecvLoop(conn, timeoutAwareError(c))
				return
			}
			if _, err := io.ReadFull(conn, attachBuf); err != nil {
				c.failRecvLoop(conn, timeoutAwareError(c))
				return
			}
		}

		c.mu.Lock()
		pc, ok := c.pending[header.SeqNum]
		if ok {
			delete(c.pending, header.SeqNum)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Error("unknown sequence number, closing connection", zap.Uint32("seq", header.SeqNum))
			c.failRecvLoop(conn, rpcerr.Local(rpcerr.ProtocolError))
			return
		}

		pc.dispatch(header.ErrCode, recvBuf, attachBuf)

		c.mu.Lock()
		empty := len(c.pending) == 0
		if empty {
			c.isRecving = false
		}
		c.mu.Unlock()
		if empty {
			return
		}
	}
}

// failRecvLoop closes the connection and broadcasts the given error to
// every remaining pending call, then clears the table — spec.md §4.3's
// error-broadcast rule.
func (c *Conn) failRecvLoop(conn net.Conn, err error) {
	c.mu.Lock()
	c.hasClosed = true
	c.st = stateClosed
	c.isRecving = false
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()

	conn.Close()
	for _, pc := range pending {
		pc.resolveLocal(err)
	}
}

// timeoutAwareError classifies a read-loop I/O failure as TimedOut if a
// timer already marked the connection as timed out, else IoError.
func timeoutAwareError(c *Conn) error {
	c.mu.Lock()
	timeout := c.isTimeout
	c.mu.Unlock()
	if timeout {
		return rpcerr.Local(rpcerr.TimedOut)
	}
	return rpcerr.Local(rpcerr.IoError)
}
