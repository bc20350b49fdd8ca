package pxrpc

// Marshaler serializes messages to byte slices.
type Marshaler interface {
	MarshalMessage(Message) ([]byte, error)
}

// Unmarshaler deserializes byte slices into messages.
// Implementations must reject input that does not decode to exactly one set field.
type Unmarshaler interface {
	UnmarshalMessage([]byte, *Message) error
}

// MarshalCodec marshals and unmarshals messages.
// Transports treat the encoding as opaque.
type MarshalCodec interface {
	Marshaler
	Unmarshaler
}
