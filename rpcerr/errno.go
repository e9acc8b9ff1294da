// Package rpcerr defines the stable error taxonomy shared by every layer
// of the client: the wire err_code byte, the local I/O failure codes, and
// the RpcError value returned to callers.
package rpcerr

import "fmt"

// Errno is a stable, wire-visible error code. Values must never be
// renumbered once shipped — they are compared across client/server
// versions built from different source trees.
type Errno uint16

const (
	Ok Errno = iota
	IoError
	NotConnected
	TimedOut
	InvalidRpcArguments
	OperationCanceled
	RpcThrowException
	FunctionNotRegistered
	ProtocolError
	UnknownProtocolVersion
	MessageTooLarge
	InvalidRpcResult
	SerialNumberConflict
)

func (e Errno) String() string {
	switch e {
	case Ok:
		return "ok"
	case IoError:
		return "io error"
	case NotConnected:
		return "not connected"
	case TimedOut:
		return "time out"
	case InvalidRpcArguments:
		return "invalid rpc arg"
	case OperationCanceled:
		return "operation canceled"
	case RpcThrowException:
		return "rpc throw exception"
	case FunctionNotRegistered:
		return "function not registered"
	case ProtocolError:
		return "protocol error"
	case UnknownProtocolVersion:
		return "unknown protocol version"
	case MessageTooLarge:
		return "message too large"
	case InvalidRpcResult:
		return "invalid rpc result"
	case SerialNumberConflict:
		return "serial number conflict"
	default:
		return "unknown user-defined error"
	}
}

// RpcError is what every public client call returns on failure: a
// machine-checkable Code plus a human-readable Msg. Server-originated
// errors (err_code in 1..0xFE, or 0xFF) carry a server-chosen Code and
// Msg; local errors carry one of the Errno constants above and its
// String().
type RpcError struct {
	Code Errno
	Msg  string
}

func (e *RpcError) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Msg)
}

// Local builds a local (non-server-originated) RpcError from an Errno,
// using its stable message as Msg.
func Local(code Errno) *RpcError {
	return &RpcError{Code: code, Msg: code.String()}
}

// Is reports whether err is an *RpcError with the given code. Used by
// interceptors (e.g. retry) that branch on error classification instead
// of string matching.
func Is(err error, code Errno) bool {
	rpcErr, ok := err.(*RpcError)
	return ok && rpcErr.Code == code
}
