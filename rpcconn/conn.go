// Package rpcconn implements the client connection state machine: framing
// glue, the pending-call table, the single demultiplexing read loop,
// per-call timers, attachment handling, TLS handshake sequencing, and
// failure propagation to every in-flight caller.
//
// It is the Go-native re-architecture of spec.md's C3–C7, grounded on
// transport/client_transport.go's ClientTransport: one seq counter, one
// recvLoop goroutine dispatching responses by sequence number, and a
// closeAllPending-style broadcast on fatal I/O errors. Where the source
// protocol (original_source/.../coro_rpc_client.hpp) inserts a pending
// entry only after its write succeeds — safe there only because its
// single-threaded cooperative executor can't race the write against the
// read loop — this Go port inserts the entry before writing, exactly as
// client_transport.go's Send does ("register BEFORE sending to avoid
// race with recvLoop"), since Go's recvLoop genuinely runs concurrently
// with the goroutine doing the write.
package rpcconn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"coropipe/rpcerr"
)

// state is the connection lifecycle state from spec.md §4.7.
type state int32

const (
	stateFresh state = iota
	stateConnecting
	stateReady
	stateClosed
)

// Config is the client's configuration surface (spec.md §6).
type Config struct {
	ClientID        uint32
	TimeoutDuration time.Duration
	Host            string
	Port            string
	SSLCertPath     string
	SSLDomain       string
	Logger          *zap.Logger
}

func (cfg Config) addr() string {
	return net.JoinHostPort(cfg.Host, cfg.Port)
}

func (cfg Config) timeout() time.Duration {
	if cfg.TimeoutDuration > 0 {
		return cfg.TimeoutDuration
	}
	return 5 * time.Second
}

// ParseEndpoint splits "host:port" at the first colon, per spec.md §6
// ("connect(\"h:p\") splits at the first ':'; IPv6 literals are not
// specified here").
func ParseEndpoint(hostport string) (host, port string, err error) {
	idx := strings.IndexByte(hostport, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("rpcconn: invalid endpoint %q, want \"host:port\"", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}

// Conn is one multiplexed client connection: a single TCP (optionally
// TLS) socket shared by every in-flight call, guarded by mu rather than
// the source's single-threaded executor — Go has no such executor, so
// every field the source documents as "only touched on the executor
// thread" is instead touched only while holding mu.
type Conn struct {
	cfg    Config
	logger *zap.Logger

	mu                   sync.Mutex
	netConn              net.Conn
	st                   state
	hasClosed            bool
	isTimeout            bool
	isRecving            bool
	isWaitingForResponse bool
	pending              map[uint32]*pendingCall
	recvBuf              []byte
	attachBuf            []byte

	nextSeq uint32

	closeOnce sync.Once
}

// NewConn creates a connection in the Fresh state. Call Connect before
// issuing any RPC.
func NewConn(cfg Config) *Conn {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		cfg:     cfg,
		logger:  logger,
		st:      stateFresh,
		pending: make(map[uint32]*pendingCall),
	}
}

// Connect dials the configured host:port (optionally performing a
// client-mode TLS handshake) within ctx's deadline; the connection's
// configured timeout applies only when ctx carries no deadline. Legal
// only from Fresh.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.st != stateFresh {
		c.mu.Unlock()
		return fmt.Errorf("rpcconn: Connect called from state %d, want Fresh", c.st)
	}
	c.st = stateConnecting
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.timeout())
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		c.mu.Lock()
		c.isTimeout = ctx.Err() == context.DeadlineExceeded
		c.st = stateClosed
		c.hasClosed = true
		c.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return rpcerr.Local(rpcerr.TimedOut)
		}
		return rpcerr.Local(rpcerr.NotConnected)
	}

	if c.cfg.SSLCertPath != "" {
		tlsConn, err := c.handshakeTLS(ctx, conn)
		if err != nil {
			conn.Close()
			c.mu.Lock()
			c.st = stateClosed
			c.hasClosed = true
			c.mu.Unlock()
			return rpcerr.Local(rpcerr.NotConnected)
		}
		conn = tlsConn
	}

	c.mu.Lock()
	c.netConn = conn
	c.st = stateReady
	c.mu.Unlock()
	c.logger.Info("connected", zap.String("addr", c.cfg.addr()), zap.Uint32("client_id", c.cfg.ClientID))
	return nil
}

// Reconnect performs reset (re-creating the socket, clearing is_timeout
// and has_closed) followed by Connect. Legal from any state. request_id_
// (nextSeq) is left monotonically advancing, per spec.md §4.7.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.netConn = nil
	c.isTimeout = false
	c.hasClosed = false
	c.isRecving = false
	c.st = stateFresh
	for seq, pc := range c.pending {
		pc.resolveLocal(rpcerr.Local(rpcerr.IoError))
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	c.closeOnce = sync.Once{}
	return c.Connect(ctx)
}

// Close is idempotent: it is safe to call from any goroutine and any
// number of times. It marks the connection closed, closes the socket,
// and broadcasts IoError (TimedOut if a timer caused the close) to every
// pending call.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.hasClosed = true
		c.st = stateClosed
		conn := c.netConn
		pending := c.pending
		c.pending = make(map[uint32]*pendingCall)
		timeout := c.isTimeout
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		broadcastErr := rpcerr.Local(rpcerr.IoError)
		if timeout {
			broadcastErr = rpcerr.Local(rpcerr.TimedOut)
		}
		for _, pc := range pending {
			pc.resolveLocal(broadcastErr)
		}
		c.logger.Info("connection closed", zap.Uint32("client_id", c.cfg.ClientID))
	})
	return nil
}

// HasClosed reports whether the connection has been closed (monotonic
// until a Reconnect resets it).
func (c *Conn) HasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasClosed
}

// closeWithReason is used internally by the read loop and timers: it
// closes the connection and records whether the cause was a timeout, so
// Close's broadcast, the read loop's failure and a write already in
// flight surface TimedOut instead of plain IoError. A SendRequest made
// after the close still returns IoError.
func (c *Conn) closeWithReason(timeout bool) {
	c.mu.Lock()
	if timeout {
		c.isTimeout = true
	}
	c.mu.Unlock()
	c.Close()
}

func (c *Conn) localIOError() error {
	c.mu.Lock()
	timeout := c.isTimeout
	c.mu.Unlock()
	if timeout {
		return rpcerr.Local(rpcerr.TimedOut)
	}
	return rpcerr.Local(rpcerr.IoError)
}
