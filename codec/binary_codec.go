package codec

import (
	"bytes"
	"encoding/gob"
)

// BinaryCodec is the binary alternative to JSONCodec. The core treats
// every codec as an opaque encode(T) -> bytes / decode(bytes) -> T pair
// (see wire/header.go's SerializeType byte and the client package's call
// sites) — there is no envelope struct left to hand-roll a
// length-prefixed layout for (the teacher's original BinaryCodec packed
// the three fields of message.RPCMessage; that envelope is gone, folded
// into the wire header's own function_id/err_code/seq_num). This wraps
// encoding/gob, the stdlib's own generic binary codec for arbitrary Go
// values — see DESIGN.md for why no third-party binary codec in the
// retrieval pack fits a generic encode(any)/decode(any) signature.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is a no-op on an empty body, matching spec.md §3's
// body_length==0 case, the same as JSONCodec.Decode.
func (c *BinaryCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
