package codec

import (
	"encoding/json"
)

// JSONCodec uses encoding/json for serialization. Pros: human-readable,
// cross-language, easy to debug. Cons: slower due to reflection + string
// parsing, larger payload (field names repeated).
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode is a no-op on an empty body, matching spec.md §3's
// body_length==0 case (a void-return RPC carries no encoded value to
// unmarshal into v).
func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
