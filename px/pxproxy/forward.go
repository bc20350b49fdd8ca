package pxproxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport"
)

// Forward sends msg to shard over a new connection and returns the shard's response.
//
// Dialing and sending share the send timeout; receiving has its own.
// Expiry of either is reported with [ErrSendTimedOut] or [ErrRecvTimedOut] as the cause.
// Cancellation of ctx does not stop a forward in progress,
// so shutdown lets in-flight forwards run to their deadlines.
//
// A nil message and nil error mean the shard closed the connection
// or explicitly sent no response.
// Failures are returned as [*ForwardError] and are never retried.
func Forward(
	ctx context.Context,
	dialer pxtransport.Dialer,
	msg pxrpc.Message,
	shard pxnet.ShardConfig,
	sendTimeout, recvTimeout time.Duration,
) (*pxrpc.Message, error) {
	ctx = context.WithoutCancel(ctx)
	addr := shard.Address()

	sendCtx, cancelSend := context.WithTimeoutCause(ctx, sendTimeout, ErrSendTimedOut)
	defer cancelSend()

	conn, err := dialer.Dial(sendCtx, addr)
	if err != nil {
		return nil, &ForwardError{Op: OpDial, Shard: addr, Err: withCause(sendCtx, err)}
	}
	defer conn.Close()

	if err := conn.Send(sendCtx, msg); err != nil {
		return nil, &ForwardError{Op: OpSend, Shard: addr, Err: withCause(sendCtx, err)}
	}
	cancelSend()

	recvCtx, cancelRecv := context.WithTimeoutCause(ctx, recvTimeout, ErrRecvTimedOut)
	defer cancelRecv()

	resp, err := conn.Recv(recvCtx)
	if err != nil {
		return nil, &ForwardError{Op: OpRecv, Shard: addr, Err: withCause(recvCtx, err)}
	}
	return resp, nil
}

// withCause makes err match the cause of ctx when ctx is done,
// for transports that report a plain timeout.
func withCause(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(err, cause) {
		return err
	}
	return fmt.Errorf("%w: %w", cause, err)
}
