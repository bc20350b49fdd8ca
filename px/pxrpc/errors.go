package pxrpc

// InvalidMessageError is returned when a [Message] has zero or several fields set.
type InvalidMessageError struct{}

func (InvalidMessageError) Error() string {
	return "invalid message: exactly one field must be set"
}
