package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is both the registered encoding.Codec name and, via
// grpc.CallContentSubtype, the subtype every call on a
// connection configured with this package negotiates — there is no
// protobuf IDL anywhere in this service, only the pack/unpack byte
// layout pkg/codec already defines.
const codecName = "adlb-raw"

// rawCodec passes wire frames through unmodified. Every RPC method in
// this package takes and returns a []byte, so Marshal/Unmarshal never
// touch the payload beyond a defensive copy.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("rpc: rawCodec.Marshal: expected *[]byte, got %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rpc: rawCodec.Unmarshal: expected *[]byte, got %T", v)
	}
	*b = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
