package pxproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxgrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxsimple"
)

const (
	DefaultSendTimeout = 4 * time.Second
	DefaultRecvTimeout = 4 * time.Second

	defaultListenHost = "0.0.0.0"

	// Slack added to the forward deadlines
	// when waiting for in-flight gRPC messages at shutdown.
	shutdownSlack = time.Second
)

// Config is the configuration for [New].
type Config struct {
	Server pxconfig.ValidatorServerConfig

	Storage pxstore.Storage

	// Zero values use DefaultSendTimeout and DefaultRecvTimeout.
	SendTimeout, RecvTimeout time.Duration

	// Number of gRPC stream workers kept ready.
	// It does not limit how many messages are handled at once.
	// Zero means the number of CPUs.
	BlockingThreads int

	// Optional.
	Metrics *pxmetrics.Metrics

	// Host the public and metrics listeners bind.
	// Defaults to every interface.
	ListenHost string
}

func (c Config) blockingThreads() int {
	if c.BlockingThreads > 0 {
		return c.BlockingThreads
	}
	return runtime.NumCPU()
}

func (c Config) listenAddr(port uint16) string {
	host := c.ListenHost
	if host == "" {
		host = defaultListenHost
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// Proxy is the proxy variant chosen by [New].
// Exactly one field is set.
type Proxy struct {
	Simple *SimpleProxy
	GRPC   *GRPCProxy
}

// Run serves until ctx is canceled.
func (p Proxy) Run(ctx context.Context) error {
	switch {
	case p.Simple != nil:
		return p.Simple.Run(ctx)
	case p.GRPC != nil:
		return p.GRPC.Run(ctx)
	default:
		panic("BUG: Run called on an empty Proxy")
	}
}

// New selects the proxy variant for the protocol families in cfg.
// It returns a [NetworkProtocolMismatchError]
// if the public and internal families differ,
// and an error describing every problem if cfg.Server is otherwise invalid.
func New(log *slog.Logger, cfg Config) (Proxy, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = DefaultRecvTimeout
	}

	internal := cfg.Server.InternalNetwork.Protocol
	public := cfg.Server.Validator.Network.Protocol

	if internal.Family() == 0 || internal.Family() != public.Family() {
		return Proxy{}, NetworkProtocolMismatchError{Internal: internal, Public: public}
	}
	if err := cfg.Server.Validate(); err != nil {
		return Proxy{}, fmt.Errorf("invalid server config: %w", err)
	}

	var dialer pxtransport.Dialer
	if t, ok := internal.Transport(); ok {
		dialer = pxsimple.Dialer{Transport: t}
	} else {
		dialer = pxgrpc.Dialer{TLS: internal.TLS()}
	}

	h := NewHandler(log.With("sys", "handler"), HandlerConfig{
		Storage:     cfg.Storage,
		Internal:    cfg.Server.InternalNetwork,
		Dialer:      dialer,
		SendTimeout: cfg.SendTimeout,
		RecvTimeout: cfg.RecvTimeout,
		Metrics:     cfg.Metrics,
	})
	base := proxyBase{log: log, cfg: cfg, h: h}

	if t, ok := public.Transport(); ok {
		return Proxy{Simple: &SimpleProxy{proxyBase: base, transport: t}}, nil
	}
	return Proxy{GRPC: &GRPCProxy{proxyBase: base}}, nil
}

type proxyBase struct {
	log *slog.Logger
	cfg Config
	h   *Handler
}

// Handler returns the message handler shared by every connection.
func (b proxyBase) Handler() *Handler {
	return b.h
}

// startMetrics starts the metrics server if the internal network configures a port.
// It returns nil when metrics are disabled.
func (b proxyBase) startMetrics(ctx context.Context) (*pxmetrics.HTTPServer, error) {
	port := b.cfg.Server.InternalNetwork.MetricsPort
	if port == 0 {
		return nil, nil
	}

	addr := b.cfg.listenAddr(port)
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics address %s: %w", addr, err)
	}
	b.log.Info("Metrics server listening", "addr", ln.Addr().String())

	return pxmetrics.NewHTTPServer(ctx, b.log.With("sys", "metrics"), pxmetrics.HTTPServerConfig{
		Listener: ln,
		Gatherer: b.cfg.Metrics.Gatherer(),
	}), nil
}

// SimpleProxy serves the simple transport (TCP or UDP) in front of simple shards.
type SimpleProxy struct {
	proxyBase

	transport pxnet.TransportProtocol
}

// Run binds the public port and serves until ctx is canceled.
// In-flight messages complete before Run returns.
func (p *SimpleProxy) Run(ctx context.Context) error {
	addr := p.cfg.listenAddr(p.cfg.Server.Validator.Network.Port)
	serverCfg := pxsimple.ServerConfig{
		Transport: p.transport,
		Handler:   p.h,
	}

	var lc net.ListenConfig
	var bound net.Addr
	switch p.transport {
	case pxnet.TransportTCP:
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to bind %s: %w", addr, err)
		}
		serverCfg.Listener = ln
		bound = ln.Addr()
	case pxnet.TransportUDP:
		pc, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			return fmt.Errorf("failed to bind %s: %w", addr, err)
		}
		serverCfg.PacketConn = pc
		bound = pc.LocalAddr()
	default:
		panic(fmt.Errorf("BUG: unhandled simple transport %s", p.transport))
	}

	ms, err := p.startMetrics(ctx)
	if err != nil {
		return errors.Join(err, closeBound(serverCfg))
	}

	// Unbounded: a forward waiting on a slow shard
	// must not hold back unrelated messages.
	pool := pond.NewPool(0)
	p.cfg.Metrics.RegisterPool(pool)
	serverCfg.Pool = pool

	p.log.Info("Proxy listening", "protocol", p.transport, "addr", bound.String())
	srv := pxsimple.NewServer(ctx, p.log.With("sys", "server"), serverCfg)

	srv.Wait()
	pool.StopAndWait()
	if ms != nil {
		ms.Wait()
	}

	p.log.Info("Proxy stopped")
	return nil
}

func closeBound(cfg pxsimple.ServerConfig) error {
	if cfg.Listener != nil {
		return cfg.Listener.Close()
	}
	return cfg.PacketConn.Close()
}

// GRPCProxy serves the ValidatorNode gRPC service in front of gRPC shards.
type GRPCProxy struct {
	proxyBase
}

// Run binds the public port and serves until ctx is canceled.
// In-flight messages complete before Run returns.
func (p *GRPCProxy) Run(ctx context.Context) error {
	public := p.cfg.Server.Validator.Network

	var tlsCfg *tls.Config
	if public.Protocol.TLS() {
		cert, err := tls.LoadX509KeyPair(public.TLSCertPath, public.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	addr := p.cfg.listenAddr(public.Port)
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	ms, err := p.startMetrics(ctx)
	if err != nil {
		return errors.Join(err, ln.Close())
	}

	p.log.Info("Proxy listening", "protocol", public.Protocol, "addr", ln.Addr().String())
	srv := pxgrpc.NewServer(ctx, p.log.With("sys", "server"), pxgrpc.ServerConfig{
		Listener:         ln,
		Handler:          p.h,
		NumStreamWorkers: uint32(p.cfg.blockingThreads()),
		TLS:              tlsCfg,
		ShutdownGrace:    p.cfg.SendTimeout + p.cfg.RecvTimeout + shutdownSlack,
	})

	srv.Wait()
	if ms != nil {
		ms.Wait()
	}

	p.log.Info("Proxy stopped")
	return nil
}
