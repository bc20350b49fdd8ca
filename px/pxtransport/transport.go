// Package pxtransport defines the message transport contract
// shared by the simple (TCP/UDP) and gRPC transports.
//
// A transport delivers whole [pxrpc.Message] values.
// Framing, compression and encoding are the transport's concern.
package pxtransport

import (
	"context"

	"github.com/gordian-engine/gproxy/px/pxrpc"
)

// Conn is one client connection to a validator endpoint.
//
// Send and Recv honor the deadline and cancellation of their own context,
// so the two directions can be bounded independently.
// A Conn is not safe for concurrent Sends or concurrent Recvs.
type Conn interface {
	Send(ctx context.Context, m pxrpc.Message) error

	// Recv returns the next message.
	// It returns nil and no error when the peer closed the connection cleanly
	// or explicitly sent no response.
	Recv(ctx context.Context) (*pxrpc.Message, error)

	Close() error
}

// Dialer opens connections to a validator endpoint address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Handler serves one inbound message.
// A nil result means there is no response.
type Handler interface {
	HandleMessage(ctx context.Context, m pxrpc.Message) *pxrpc.Message
}

// HandlerFunc adapts a function to a [Handler].
type HandlerFunc func(ctx context.Context, m pxrpc.Message) *pxrpc.Message

func (f HandlerFunc) HandleMessage(ctx context.Context, m pxrpc.Message) *pxrpc.Message {
	return f(ctx, m)
}
