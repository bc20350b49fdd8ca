package pxsimple

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport"
)

// ServerConfig is the configuration for [NewServer].
type ServerConfig struct {
	Transport pxnet.TransportProtocol

	// Listener is required for TCP.
	Listener net.Listener

	// PacketConn is required for UDP.
	PacketConn net.PacketConn

	Handler pxtransport.Handler

	// Pool runs handler calls.
	// A bounded pool limits how many messages are handled at once,
	// across every connection.
	// When nil, the server creates an unbounded pool
	// and stops it on shutdown.
	Pool pond.Pool

	// Defaults to the JSON codec when nil.
	Codec pxrpc.MarshalCodec
}

// Server serves the simple transport until its context is canceled.
//
// Messages on one TCP connection are handled one at a time, in order,
// and each response is written before the next message is read.
// UDP datagrams are handled independently.
type Server struct {
	log *slog.Logger

	h     pxtransport.Handler
	codec pxrpc.MarshalCodec

	pool    pond.Pool
	ownPool bool

	// Per-connection goroutines and in-flight datagrams.
	wg sync.WaitGroup

	done chan struct{}
}

// NewServer starts serving on the configured listener or packet conn.
// Cancel ctx to stop the server; then call Wait.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	if cfg.Handler == nil {
		panic("BUG: handler for the simple server is nil")
	}

	s := &Server{
		log:   log,
		h:     cfg.Handler,
		codec: codecOrDefault(cfg.Codec),
		pool:  cfg.Pool,
		done:  make(chan struct{}),
	}
	if s.pool == nil {
		s.pool = pond.NewPool(0)
		s.ownPool = true
	}

	switch cfg.Transport {
	case pxnet.TransportTCP:
		if cfg.Listener == nil {
			panic("BUG: listener for the simple TCP server is nil")
		}
		go s.serveTCP(ctx, cfg.Listener)
		go s.waitForShutdown(ctx, cfg.Listener)
	case pxnet.TransportUDP:
		if cfg.PacketConn == nil {
			panic("BUG: packet conn for the simple UDP server is nil")
		}
		// The packet conn stays open until in-flight replies are written.
		go s.serveUDP(ctx, cfg.PacketConn)
	default:
		panic("BUG: unsupported transport " + cfg.Transport.String())
	}

	return s
}

// Wait blocks until the server has stopped
// and every in-flight message has been handled.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, c io.Closer) {
	select {
	case <-s.done:
		return
	case <-ctx.Done():
		_ = c.Close()
	}
}

// finish waits for in-flight messages, then closes c.
func (s *Server) finish(c io.Closer) {
	s.wg.Wait()
	_ = c.Close()
	if s.ownPool {
		s.pool.StopAndWait()
	}
	close(s.done)
}

func (s *Server) serveTCP(ctx context.Context, ln net.Listener) {
	defer s.finish(ln)

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.log.Info("Simple TCP server shutting down")
			} else {
				s.log.Info("Simple TCP server shutting down due to error", "err", err)
			}
			return
		}

		s.wg.Add(1)
		go s.handleConn(ctx, c)
	}
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	log := s.log.With("conn_id", uuid.NewString(), "remote", c.RemoteAddr().String())
	log.Debug("Accepted connection")

	// Interrupt an idle read on shutdown;
	// a message already being handled still gets its response.
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetReadDeadline(time.Now())
	})
	defer stop()

	r := bufio.NewReader(c)
	for {
		payload, err := ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				log.Debug("Connection closed")
			} else {
				log.Info("Closing connection after read failure", "err", err)
			}
			return
		}

		reply, ok := s.handle(ctx, log, payload)
		if !ok {
			return
		}

		frame, err := encodeFrame(s.codec, reply)
		if err != nil {
			log.Warn("Failed to encode response", "err", err)
			frame, _ = AppendFrame(nil, nil)
		}
		if _, err := c.Write(frame); err != nil {
			log.Info("Closing connection after write failure", "err", err)
			return
		}
	}
}

func (s *Server) serveUDP(ctx context.Context, pc net.PacketConn) {
	defer s.finish(pc)

	stop := context.AfterFunc(ctx, func() {
		_ = pc.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		buf := make([]byte, MaxDatagramSize+1)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("Simple UDP server shutting down")
			} else {
				s.log.Info("Simple UDP server shutting down due to error", "err", err)
			}
			return
		}

		payload, err := DecodeFrame(buf[:n])
		if err != nil {
			s.log.Info("Dropping malformed datagram", "remote", addr.String(), "err", err)
			continue
		}

		s.wg.Add(1)
		go s.handleDatagram(ctx, pc, addr, payload)
	}
}

func (s *Server) handleDatagram(ctx context.Context, pc net.PacketConn, addr net.Addr, payload []byte) {
	defer s.wg.Done()

	log := s.log.With("remote", addr.String())

	reply, ok := s.handle(ctx, log, payload)
	if !ok {
		return
	}

	frame, err := encodeFrame(s.codec, reply)
	if err != nil {
		log.Warn("Failed to encode response", "err", err)
		return
	}
	if len(frame) > MaxDatagramSize {
		log.Warn("Dropping response too large for one datagram", "size", len(frame))
		return
	}
	if _, err := pc.WriteTo(frame, addr); err != nil {
		log.Info("Failed to write response datagram", "err", err)
	}
}

// handle decodes payload and runs the handler on the pool.
// It reports false if the message could not be handled at all,
// in which case the connection should be dropped.
func (s *Server) handle(ctx context.Context, log *slog.Logger, payload []byte) (*pxrpc.Message, bool) {
	m, err := decodePayload(s.codec, payload)
	if err != nil {
		log.Info("Dropping undecodable message", "err", err)
		return nil, false
	}
	if m == nil {
		// An empty frame carries nothing to handle.
		return nil, true
	}

	var reply *pxrpc.Message
	task := s.pool.Submit(func() {
		reply = s.h.HandleMessage(ctx, *m)
	})
	if err := task.Wait(); err != nil {
		log.Warn("Handler did not complete", "kind", m.Kind(), "err", err)
		return nil, false
	}
	return reply, true
}
