package sirius

import (
	"fmt"

	"google.golang.org/grpc"
)

// wireCodec encodes Sirius messages in protobuf binary format. It is named
// "proto" so the content type on the wire is application/grpc+proto.
type wireCodec struct{}

func (wireCodec) Name() string { return "proto" }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("sirius: cannot marshal %T", v)
	}

	return m.appendWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("sirius: cannot unmarshal into %T", v)
	}

	return m.readWire(data)
}

// ServerCodec returns the server option that installs the Sirius codec.
// Servers registering ServiceDesc must be created with it.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(wireCodec{})
}
