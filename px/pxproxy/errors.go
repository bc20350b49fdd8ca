package pxproxy

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
)

var (
	// ErrNetworkDescriptionNotFound is returned for a network description query
	// when storage holds no description.
	ErrNetworkDescriptionNotFound = errors.New("network description not found")

	// ErrBlobNotExpected is returned for an upload of a blob
	// that no certificate has referenced yet.
	ErrBlobNotExpected = errors.New("blob not found")

	// ErrSendTimedOut is the cause of a forward that did not finish sending in time.
	ErrSendTimedOut = errors.New("send to shard timed out")

	// ErrRecvTimedOut is the cause of a forward whose shard did not answer in time.
	ErrRecvTimedOut = errors.New("receive from shard timed out")
)

// NetworkProtocolMismatchError is returned by [New]
// when the public and internal networks use different protocol families.
type NetworkProtocolMismatchError struct {
	Internal, Public pxnet.NetworkProtocol
}

func (e NetworkProtocolMismatchError) Error() string {
	return fmt.Sprintf("network protocol mismatch: cannot have %s and %s", e.Internal, e.Public)
}

// UnexpectedMessageError is returned when a message that is not a local request
// reaches the local dispatcher.
type UnexpectedMessageError struct {
	Kind pxrpc.Kind
}

func (e UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected message of kind %s", e.Kind)
}

// ForwardOp names the step of a forward that failed.
type ForwardOp string

const (
	OpDial ForwardOp = "dial"
	OpSend ForwardOp = "send"
	OpRecv ForwardOp = "recv"
)

// ForwardError describes a failed forward to a shard.
type ForwardError struct {
	Op    ForwardOp
	Shard string
	Err   error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("failed to %s shard %s: %v", e.Op, e.Shard, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}
