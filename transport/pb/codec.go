package pb

import (
	"encoding"
	"fmt"
)

// Codec implements google.golang.org/grpc/encoding.Codec over the
// standard library's BinaryMarshaler/BinaryUnmarshaler instead of
// protoreflect. Every type in this package satisfies that pair by hand
// (see types.go), which is what lets the gRPC transport use real gRPC
// framing without a protoc-gen-go step.
type Codec struct{}

func (Codec) Name() string { return "raftbinary" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("pb: %T does not implement encoding.BinaryMarshaler", v)
	}
	return m.MarshalBinary()
}

func (Codec) Unmarshal(data []byte, v any) error {
	u, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("pb: %T does not implement encoding.BinaryUnmarshaler", v)
	}
	return u.UnmarshalBinary(data)
}
