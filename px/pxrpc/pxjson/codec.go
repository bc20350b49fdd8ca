// Package pxjson provides a JSON [pxrpc.MarshalCodec].
package pxjson

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxrpc"
)

// MarshalCodec is a [pxrpc.MarshalCodec] that encodes messages as JSON objects
// with a single key naming the message kind.
type MarshalCodec struct{}

func (MarshalCodec) MarshalMessage(m pxrpc.Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (MarshalCodec) UnmarshalMessage(b []byte, m *pxrpc.Message) error {
	var decoded pxrpc.Message
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*m = decoded
	return nil
}
