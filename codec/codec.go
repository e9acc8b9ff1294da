// Package codec is the external collaborator spec.md §1 deliberately
// leaves opaque: an encode(T) -> bytes / decode(bytes) -> T pair. The
// wire header's SerializeType byte (wire.RequestHeader.SerializeType)
// carries the CodecType below so the receiving side can resolve the same
// Codec without any schema negotiation (spec.md §1 Non-goals).
package codec

import "fmt"

// CodecType is the wire-visible serialize_type byte from spec.md §3.
type CodecType byte

const (
	CodecTypeJSON CodecType = iota
	CodecTypeBinary
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// registry maps a wire serialize_type byte to the Codec that handles it.
var registry = map[CodecType]Codec{
	CodecTypeJSON:   &JSONCodec{},
	CodecTypeBinary: &BinaryCodec{},
}

// GetCodec resolves a wire serialize_type byte to its Codec. An unknown
// type falls back to JSON rather than failing — both ends of this
// protocol are assumed to share codec types out of band (spec.md §1:
// "no schema negotiation"), so a mismatch here is a caller configuration
// bug, not something this layer can report through err_code.
func GetCodec(codecType CodecType) Codec {
	if c, ok := registry[codecType]; ok {
		return c
	}
	return registry[CodecTypeJSON]
}
