// Package jsoncodec registers a JSON encoding.Codec with grpc-go so
// pkg/rpc's hand-written ServiceDescs can serialize requests and responses
// without a protoc-generated wire format. grpc-go negotiates the codec by
// content-subtype, so a client must set grpc.CallContentSubtype(Name) (or
// the server must be dialed with the matching grpc.ForceCodec) for this
// codec to be selected instead of the default proto codec.
package jsoncodec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the content-subtype this codec registers under, producing the
// wire content-type "application/grpc+json".
const Name = "json"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsoncodec: marshal %T: %w", v, err)
	}
	return data, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("jsoncodec: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (codec) Name() string { return Name }
