// Package client implements the public call API from spec.md §4.8: Call,
// CallFor, SendRequest, SendRequestFor, built on top of rpcconn.Conn and a
// codec.Codec. It is grounded on client/client.go's Call (encode args,
// send, decode reply, surface server errors) with the registry/balancer/
// pool plumbing stripped out, since this client speaks to one connection
// (see SPEC_FULL.md §5 Non-goals: no pooling, no discovery, no balancing).
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"coropipe/codec"
	"coropipe/rpcconn"
	"coropipe/rpcerr"
)

// DefaultTimeout is the per-call deadline Call uses, matching spec.md
// §4.8's "call<fn> is call_for<fn>(5s, …)".
const DefaultTimeout = 5 * time.Second

// Client is a thin orchestration layer over one rpcconn.Conn: it encodes
// arguments, writes the request, and classifies the response per
// spec.md §4.8, closing the connection whenever the wire stream is left
// in a state the client can no longer trust.
type Client struct {
	conn   *rpcconn.Conn
	codec  codec.Codec
	logger *zap.Logger
}

// New wraps an already-Connect-ed rpcconn.Conn with a codec.
func New(conn *rpcconn.Conn, codecType codec.CodecType, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, codec: codec.GetCodec(codecType), logger: logger}
}

// Call is CallFor with DefaultTimeout, context.Background, and no
// request attachment.
func (c *Client) Call(fnID uint64, args, reply any) error {
	_, err := c.CallFor(context.Background(), fnID, args, reply, DefaultTimeout, nil)
	return err
}

// CallAttachment is Call but sends reqAttach alongside the request and
// returns the response attachment byte-for-byte (spec.md §8's attachment
// round-trip property), equivalent to CallFor with DefaultTimeout and
// context.Background.
func (c *Client) CallAttachment(fnID uint64, args, reply any, reqAttach []byte) ([]byte, error) {
	return c.CallFor(context.Background(), fnID, args, reply, DefaultTimeout, reqAttach)
}

// CallFor encodes args, sends the request (with an optional attachment),
// and blocks until the response is decoded into reply or the
// timeout/connection fails, returning the response attachment byte-for-
// byte (nil if the response carried none). It marks the connection as
// synchronously waiting before sending, making this call (and only this
// call, until the next SendRequest anywhere on the connection) eligible
// for DeliveryBorrow — see rpcconn.Conn.MarkWaiting.
func (c *Client) CallFor(ctx context.Context, fnID uint64, args, reply any, timeout time.Duration, reqAttach []byte) ([]byte, error) {
	body, err := c.codec.Encode(args)
	if err != nil {
		return nil, err
	}
	c.conn.MarkWaiting()
	ticket, err := c.conn.SendRequest(fnID, byte(c.codec.Type()), body, reqAttach, timeout, c.decodeInto(reply))
	if err != nil {
		return nil, err
	}
	val, err := awaitWithContext(ctx, ticket)
	if err != nil {
		return nil, err
	}
	respAttach, _ := val.([]byte)
	return respAttach, nil
}

// SendRequest is the two-stage, pipelining entry point: it returns as
// soon as the request has been written and the waiter registered,
// producing a Ticket whose Await blocks for the response. It never marks
// the connection as synchronously waiting, so it always registers
// DeliveryOwn — safe to call any number of times before awaiting any of
// the resulting Tickets. reqAttach is the optional request attachment;
// the response attachment is available by type-asserting Ticket.Await's
// returned value to []byte.
func (c *Client) SendRequest(fnID uint64, args, reply any, reqAttach []byte) (*rpcconn.Ticket, error) {
	return c.SendRequestFor(fnID, args, reply, DefaultTimeout, reqAttach)
}

// SendRequestFor is SendRequest with an explicit per-call timeout.
func (c *Client) SendRequestFor(fnID uint64, args, reply any, timeout time.Duration, reqAttach []byte) (*rpcconn.Ticket, error) {
	body, err := c.codec.Encode(args)
	if err != nil {
		return nil, err
	}
	return c.conn.SendRequest(fnID, byte(c.codec.Type()), body, reqAttach, timeout, c.decodeInto(reply))
}

// decodeInto builds the decodeFunc SendRequest/SendRequestFor hands to
// rpcconn: the response classification from spec.md §4.8, given the
// wire-level err_code byte and raw body/attachment bytes. On success it
// returns a fresh copy of the response attachment as its "any" value —
// safe to retain past the call even for a DeliveryBorrow dispatch, which
// decodes synchronously against the connection's shared buffers.
func (c *Client) decodeInto(reply any) func(errCode byte, body, attach []byte) (any, error) {
	return func(errCode byte, body, attach []byte) (any, error) {
		switch {
		case errCode == 0:
			if reply == nil {
				return append([]byte(nil), attach...), nil
			}
			if err := c.codec.Decode(body, reply); err != nil {
				c.logger.Warn("reply decode failed, closing connection", zap.Error(err))
				c.conn.Close()
				return nil, rpcerr.Local(rpcerr.InvalidRpcResult)
			}
			return append([]byte(nil), attach...), nil
		case errCode == 0xFF:
			var rpcErr rpcerr.RpcError
			if err := c.codec.Decode(body, &rpcErr); err != nil {
				c.logger.Warn("framework error body decode failed, closing connection", zap.Error(err))
				c.conn.Close()
				return nil, rpcerr.Local(rpcerr.ProtocolError)
			}
			return nil, &rpcErr
		default:
			var msg string
			if err := c.codec.Decode(body, &msg); err != nil {
				c.logger.Warn("server error body decode failed, closing connection", zap.Error(err))
				c.conn.Close()
				return nil, rpcerr.Local(rpcerr.ProtocolError)
			}
			c.conn.Close()
			return nil, &rpcerr.RpcError{Code: rpcerr.Errno(errCode), Msg: msg}
		}
	}
}

// awaitWithContext blocks for the ticket's response, returning ctx's
// error if it's cancelled first. Cancellation here never removes the
// pending-table entry or tells the server anything — per spec.md §5, the
// reply is still delivered and discarded; only the caller stops waiting.
func awaitWithContext(ctx context.Context, ticket *rpcconn.Ticket) (any, error) {
	type res struct {
		val any
		err error
	}
	done := make(chan res, 1)
	go func() {
		val, err := ticket.Await()
		done <- res{val, err}
	}()
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
