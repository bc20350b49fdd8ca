package pxgrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxjson"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServerConfig is the configuration for [NewServer].
type ServerConfig struct {
	Listener net.Listener

	Handler pxtransport.Handler

	// Zero leaves stream handling to gRPC's default goroutine per stream.
	NumStreamWorkers uint32

	// Serve TLS when set.
	TLS *tls.Config

	// Defaults to the JSON codec when nil.
	Codec pxrpc.MarshalCodec

	// How long shutdown waits for in-flight messages
	// before closing every connection.
	// Handlers still run to completion after that.
	// Zero waits without limit.
	ShutdownGrace time.Duration
}

// Server serves the ValidatorNode service until its context is canceled.
type Server struct {
	log *slog.Logger

	h     pxtransport.Handler
	codec pxrpc.MarshalCodec

	grace time.Duration

	// Closed when shutdown begins, so idle streams end.
	quit chan struct{}
	done chan struct{}
}

var _ ValidatorNodeServer = (*Server)(nil)

func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	if cfg.Listener == nil {
		panic("BUG: listener for the grpc server is nil")
	}
	if cfg.Handler == nil {
		panic("BUG: handler for the grpc server is nil")
	}

	srv := &Server{
		log: log,

		h:     cfg.Handler,
		codec: cfg.Codec,

		grace: cfg.ShutdownGrace,

		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if srv.codec == nil {
		srv.codec = pxjson.MarshalCodec{}
	}

	// Stop must not return while a handler is still running.
	opts := []grpc.ServerOption{grpc.WaitForHandlers(true)}
	if cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}
	if cfg.NumStreamWorkers > 0 {
		opts = append(opts, grpc.NumStreamWorkers(cfg.NumStreamWorkers))
	}
	gs := grpc.NewServer(opts...)
	RegisterValidatorNodeServer(gs, srv)

	go srv.serve(cfg.Listener, gs)
	go srv.waitForShutdown(ctx, gs)

	return srv
}

func (s *Server) Wait() {
	<-s.done
}

func (s *Server) waitForShutdown(ctx context.Context, gs *grpc.Server) {
	select {
	case <-s.done:
		// s.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
	}

	close(s.quit)

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()

	if s.grace <= 0 {
		<-stopped
		return
	}

	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-stopped:
	case <-t.C:
		s.log.Info("Forcing grpc server stop after grace period", "grace", s.grace)
		gs.Stop()
	}
}

func (s *Server) serve(ln net.Listener, gs *grpc.Server) {
	defer close(s.done)

	if err := gs.Serve(ln); err != nil {
		if !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("GRPC server stopped with error", "err", err)
		}
	}
}

type received struct {
	in  *wrapperspb.BytesValue
	err error
}

// recvLoop feeds stream's requests to out until the stream fails or ctx ends.
func recvLoop(ctx context.Context, stream ValidatorNode_ExchangeServer, out chan<- received) {
	for {
		in, err := stream.Recv()
		select {
		case out <- received{in: in, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// Exchange implements [ValidatorNodeServer].
// Requests on one stream are handled in order.
// Once shutdown begins, the stream ends after its current message.
func (s *Server) Exchange(stream ValidatorNode_ExchangeServer) error {
	ctx := stream.Context()

	requests := make(chan received, 1)
	go recvLoop(ctx, stream, requests)

	for {
		var r received
		select {
		case <-s.quit:
			return nil
		case r = <-requests:
		}

		in, err := r.in, r.err
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var m pxrpc.Message
		if err := s.codec.UnmarshalMessage(in.Value, &m); err != nil {
			s.log.Info("Rejecting undecodable message", "err", err)
			return status.Errorf(codes.InvalidArgument, "undecodable message: %v", err)
		}

		out := new(wrapperspb.BytesValue)
		if reply := s.h.HandleMessage(ctx, m); reply != nil {
			b, err := s.codec.MarshalMessage(*reply)
			if err != nil {
				s.log.Warn("Failed to encode response", "kind", reply.Kind(), "err", err)
			} else {
				out.Value = b
			}
		}

		if err := stream.Send(out); err != nil {
			return err
		}
	}
}
