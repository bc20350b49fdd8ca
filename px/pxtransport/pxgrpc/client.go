package pxgrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxjson"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Dialer opens exchange streams to a ValidatorNode service.
type Dialer struct {
	TLS bool

	// TLSConfig is used when TLS is set.
	// Nil means the system roots and default settings.
	TLSConfig *tls.Config

	// Defaults to the JSON codec when nil.
	Codec pxrpc.MarshalCodec
}

var _ pxtransport.Dialer = Dialer{}

// Dial opens a client and one exchange stream to addr.
// ctx bounds only the dial; the stream lives until Close.
func (d Dialer) Dial(ctx context.Context, addr string) (pxtransport.Conn, error) {
	creds := insecure.NewCredentials()
	if d.TLS {
		cfg := d.TLSConfig
		if cfg == nil {
			cfg = new(tls.Config)
		}
		creds = credentials.NewTLS(cfg)
	}

	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		cc:     cc,
		cancel: cancel,
		codec:  d.Codec,
	}
	if c.codec == nil {
		c.codec = pxjson.MarshalCodec{}
	}

	err = c.do(ctx, func() error {
		s, err := cc.NewStream(streamCtx, &ValidatorNode_ServiceDesc.Streams[0], ExchangeMethod)
		c.stream = s
		return err
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open exchange stream to %s: %w", addr, err)
	}
	return c, nil
}

// conn is a [pxtransport.Conn] over one exchange stream.
type conn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	codec  pxrpc.MarshalCodec
}

// do runs fn, tearing down the stream if ctx ends first.
// gRPC stream operations take no context of their own.
func (c *conn) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.cancel()
		<-errCh
		return context.Cause(ctx)
	}
}

func (c *conn) Send(ctx context.Context, m pxrpc.Message) error {
	b, err := c.codec.MarshalMessage(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.do(ctx, func() error {
		return c.stream.SendMsg(&wrapperspb.BytesValue{Value: b})
	})
}

func (c *conn) Recv(ctx context.Context) (*pxrpc.Message, error) {
	in := new(wrapperspb.BytesValue)
	err := c.do(ctx, func() error {
		return c.stream.RecvMsg(in)
	})
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(in.Value) == 0 {
		return nil, nil
	}

	var m pxrpc.Message
	if err := c.codec.UnmarshalMessage(in.Value, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *conn) Close() error {
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	c.cancel()
	return c.cc.Close()
}
