// Package wire implements the fixed 24-byte request/response header
// framing used on the connection. It mirrors how protocol/protocol.go in
// the retrieval pack's mini-rpc teacher frames a header: a fixed-size
// buffer written/read with encoding/binary, magic-number validated before
// anything else, with io.ReadFull guaranteeing exact reads so a short
// read never desyncs the stream.
//
// Unlike the teacher's own 14-byte big-endian frame, the layout and byte
// order here are fixed by the wire-compat requirement this client speaks:
// little-endian, 24 bytes, with a function_id instead of a service-method
// string.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the sentinel byte identifying a frame of this protocol.
// A mismatch on decode is always a terminal protocol error.
const Magic byte = 0xC3

// Version is the only protocol version this client speaks.
const Version byte = 1

// HeaderSize is the fixed size, in bytes, of both the request and the
// response header.
const HeaderSize = 24

// RequestHeader is the 24-byte header prefixed to every outgoing frame.
type RequestHeader struct {
	Magic         byte
	Version       byte
	SerializeType byte
	Reserved      byte
	FunctionID    uint64
	BodyLength    uint32
	SeqNum        uint32
	AttachLength  uint32
}

// ResponseHeader is the 24-byte header read from every incoming frame.
// It carries err_code in the byte RequestHeader reserves (offset 3), and
// 8 reserved bytes occupy the function_id slot so it has the same total
// size as RequestHeader.
type ResponseHeader struct {
	Magic         byte
	Version       byte
	SerializeType byte
	ErrCode       byte
	Reserved      [8]byte
	BodyLength    uint32
	SeqNum        uint32
	AttachLength  uint32
}

// EncodeRequestHeader writes the 24-byte request header for the given
// function, body length, sequence number, and attachment length into buf,
// which must be at least HeaderSize bytes.
func EncodeRequestHeader(buf []byte, fnID uint64, serializeType byte, seqNum, bodyLen, attachLen uint32) {
	_ = buf[:HeaderSize]
	buf[0] = Magic
	buf[1] = Version
	buf[2] = serializeType
	buf[3] = 0
	binary.LittleEndian.PutUint64(buf[4:12], fnID)
	binary.LittleEndian.PutUint32(buf[12:16], bodyLen)
	binary.LittleEndian.PutUint32(buf[16:20], seqNum)
	binary.LittleEndian.PutUint32(buf[20:24], attachLen)
}

// DecodeRequestHeader parses a 24-byte buffer into a RequestHeader,
// validating magic and version. Used by tests exercising the framing
// round-trip; production decode only ever happens on response headers.
func DecodeRequestHeader(buf []byte) (RequestHeader, error) {
	var h RequestHeader
	if len(buf) < HeaderSize {
		return h, fmt.Errorf("wire: short request header (%d bytes)", len(buf))
	}
	if buf[0] != Magic {
		return h, fmt.Errorf("wire: bad magic %#x", buf[0])
	}
	if buf[1] != Version {
		return h, fmt.Errorf("wire: unsupported version %d", buf[1])
	}
	h.Magic = buf[0]
	h.Version = buf[1]
	h.SerializeType = buf[2]
	h.Reserved = buf[3]
	h.FunctionID = binary.LittleEndian.Uint64(buf[4:12])
	h.BodyLength = binary.LittleEndian.Uint32(buf[12:16])
	h.SeqNum = binary.LittleEndian.Uint32(buf[16:20])
	h.AttachLength = binary.LittleEndian.Uint32(buf[20:24])
	return h, nil
}

// ReadResponseHeader reads and validates one 24-byte response header from
// r. A magic or version mismatch is a terminal protocol error — the
// caller must close the connection and broadcast to every pending call.
func ReadResponseHeader(r io.Reader, buf []byte) (ResponseHeader, error) {
	var h ResponseHeader
	if len(buf) < HeaderSize {
		buf = make([]byte, HeaderSize)
	}
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return h, err
	}
	if buf[0] != Magic {
		return h, fmt.Errorf("wire: bad magic %#x", buf[0])
	}
	if buf[1] != Version {
		return h, fmt.Errorf("wire: unsupported version %d", buf[1])
	}
	h.Magic = buf[0]
	h.Version = buf[1]
	h.SerializeType = buf[2]
	h.ErrCode = buf[3]
	copy(h.Reserved[:], buf[4:12])
	h.BodyLength = binary.LittleEndian.Uint32(buf[12:16])
	h.SeqNum = binary.LittleEndian.Uint32(buf[16:20])
	h.AttachLength = binary.LittleEndian.Uint32(buf[20:24])
	return h, nil
}

// EncodeResponseHeader writes a 24-byte response header into buf. Used
// only by tests constructing synthetic server replies.
func EncodeResponseHeader(buf []byte, errCode, serializeType byte, seqNum, bodyLen, attachLen uint32) {
	_ = buf[:HeaderSize]
	buf[0] = Magic
	buf[1] = Version
	buf[2] = serializeType
	buf[3] = errCode
	for i := 4; i < 12; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[12:16], bodyLen)
	binary.LittleEndian.PutUint32(buf[16:20], seqNum)
	binary.LittleEndian.PutUint32(buf[20:24], attachLen)
}
