package pxsimple

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxjson"
	"github.com/gordian-engine/gproxy/px/pxtransport"
)

// Dialer opens simple-transport connections.
type Dialer struct {
	Transport pxnet.TransportProtocol

	// Defaults to the JSON codec when nil.
	Codec pxrpc.MarshalCodec
}

var _ pxtransport.Dialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, addr string) (pxtransport.Conn, error) {
	codec := codecOrDefault(d.Codec)

	var nd net.Dialer
	switch d.Transport {
	case pxnet.TransportTCP:
		c, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial tcp %s: %w", addr, err)
		}
		return newStreamConn(c, codec), nil
	case pxnet.TransportUDP:
		c, err := nd.DialContext(ctx, "udp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial udp %s: %w", addr, err)
		}
		return &datagramConn{c: c, codec: codec}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %s", d.Transport)
	}
}

func codecOrDefault(c pxrpc.MarshalCodec) pxrpc.MarshalCodec {
	if c == nil {
		return pxjson.MarshalCodec{}
	}
	return c
}

// streamConn is a [pxtransport.Conn] over a TCP stream.
type streamConn struct {
	c     net.Conn
	r     *bufio.Reader
	codec pxrpc.MarshalCodec
}

func newStreamConn(c net.Conn, codec pxrpc.MarshalCodec) *streamConn {
	return &streamConn{c: c, r: bufio.NewReader(c), codec: codec}
}

func (s *streamConn) Send(ctx context.Context, m pxrpc.Message) error {
	frame, err := encodeFrame(s.codec, &m)
	if err != nil {
		return err
	}
	return pxtransport.WithDeadline(ctx, s.c.SetWriteDeadline, func() error {
		_, err := s.c.Write(frame)
		return err
	})
}

func (s *streamConn) Recv(ctx context.Context) (*pxrpc.Message, error) {
	var payload []byte
	err := pxtransport.WithDeadline(ctx, s.c.SetReadDeadline, func() error {
		var err error
		payload, err = ReadFrame(s.r)
		return err
	})
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodePayload(s.codec, payload)
}

func (s *streamConn) Close() error {
	return s.c.Close()
}

// datagramConn is a [pxtransport.Conn] over a connected UDP socket.
type datagramConn struct {
	c     net.Conn
	codec pxrpc.MarshalCodec
}

func (d *datagramConn) Send(ctx context.Context, m pxrpc.Message) error {
	frame, err := encodeFrame(d.codec, &m)
	if err != nil {
		return err
	}
	if len(frame) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes exceed one datagram", ErrFrameTooLarge, len(frame))
	}
	return pxtransport.WithDeadline(ctx, d.c.SetWriteDeadline, func() error {
		_, err := d.c.Write(frame)
		return err
	})
}

func (d *datagramConn) Recv(ctx context.Context) (*pxrpc.Message, error) {
	buf := make([]byte, MaxDatagramSize+1)
	var n int
	err := pxtransport.WithDeadline(ctx, d.c.SetReadDeadline, func() error {
		var err error
		n, err = d.c.Read(buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	payload, err := DecodeFrame(buf[:n])
	if err != nil {
		return nil, err
	}
	return decodePayload(d.codec, payload)
}

func (d *datagramConn) Close() error {
	return d.c.Close()
}

// encodeFrame frames the encoding of m, or an empty frame when m is nil.
func encodeFrame(codec pxrpc.MarshalCodec, m *pxrpc.Message) ([]byte, error) {
	if m == nil {
		return AppendFrame(nil, nil)
	}
	b, err := codec.MarshalMessage(*m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return AppendFrame(nil, b)
}

// decodePayload decodes a frame payload, where empty means no message.
func decodePayload(codec pxrpc.MarshalCodec, payload []byte) (*pxrpc.Message, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var m pxrpc.Message
	if err := codec.UnmarshalMessage(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
