package pxproxy_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordian-engine/gproxy/internal/gtest"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxproxy"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxrpc/pxrpctest"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxgrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxsimple"
	"github.com/stretchr/testify/require"
)

func serverConfig(internal, public pxnet.NetworkProtocol, shards ...pxnet.ShardConfig) pxconfig.ValidatorServerConfig {
	if len(shards) == 0 {
		shards = []pxnet.ShardConfig{{Host: "127.0.0.1", Port: 9100}}
	}
	cfg := pxconfig.ValidatorServerConfig{
		Validator: pxconfig.ValidatorConfig{
			PublicKey: pxconfig.ValidatorPublicKey{0xab, 0xcd},
			Network: pxnet.PublicNetworkConfig{
				Protocol: public,
				Host:     "127.0.0.1",
			},
		},
		InternalNetwork: pxnet.InternalNetworkConfig{
			Protocol: internal,
			Shards:   shards,
		},
	}
	if public.TLS() {
		// Only read by Run.
		cfg.Validator.Network.TLSCertPath = "proxy.crt"
		cfg.Validator.Network.TLSKeyPath = "proxy.key"
	}
	return cfg
}

func TestNew_selectsVariant(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		internal, public pxnet.NetworkProtocol
		wantGRPC         bool
	}{
		{internal: pxnet.ProtocolTCP, public: pxnet.ProtocolTCP},
		{internal: pxnet.ProtocolUDP, public: pxnet.ProtocolTCP},
		{internal: pxnet.ProtocolTCP, public: pxnet.ProtocolUDP},
		{internal: pxnet.ProtocolGRPC, public: pxnet.ProtocolGRPC, wantGRPC: true},
		{internal: pxnet.ProtocolGRPC, public: pxnet.ProtocolGRPCS, wantGRPC: true},
		{internal: pxnet.ProtocolGRPCS, public: pxnet.ProtocolGRPC, wantGRPC: true},
	} {
		name := fmt.Sprintf("%s behind %s", tc.internal, tc.public)
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
				Server:  serverConfig(tc.internal, tc.public),
				Storage: newStorage(t),
			})
			require.NoError(t, err)

			if tc.wantGRPC {
				require.Nil(t, p.Simple)
				require.NotNil(t, p.GRPC)
			} else {
				require.NotNil(t, p.Simple)
				require.Nil(t, p.GRPC)
			}
		})
	}
}

func TestNew_protocolMismatch(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		internal, public pxnet.NetworkProtocol
		wantMsg          string
	}{
		{pxnet.ProtocolTCP, pxnet.ProtocolGRPC, "network protocol mismatch: cannot have tcp and grpc"},
		{pxnet.ProtocolGRPCS, pxnet.ProtocolUDP, "network protocol mismatch: cannot have grpcs and udp"},
	} {
		_, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
			Server:  serverConfig(tc.internal, tc.public),
			Storage: newStorage(t),
		})

		var me pxproxy.NetworkProtocolMismatchError
		require.ErrorAs(t, err, &me)
		require.Equal(t, tc.internal, me.Internal)
		require.Equal(t, tc.public, me.Public)
		require.EqualError(t, err, tc.wantMsg)
	}
}

// runProxy starts p in the background and returns the channel
// that receives Run's result.
func runProxy(ctx context.Context, p pxproxy.Proxy) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- p.Run(ctx)
	}()
	return ch
}

// exchangeEventually retries until the proxy at addr accepts a connection
// and answers m, then returns the open connection.
func exchangeEventually(t *testing.T, d pxtransport.Dialer, addr string, m pxrpc.Message) (pxtransport.Conn, *pxrpc.Message) {
	t.Helper()

	var conn pxtransport.Conn
	var resp *pxrpc.Message
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		c, err := d.Dial(ctx, addr)
		if err != nil {
			return false
		}
		if err := c.Send(ctx, m); err != nil {
			_ = c.Close()
			return false
		}
		r, err := c.Recv(ctx)
		if err != nil {
			_ = c.Close()
			return false
		}
		conn, resp = c, r
		return true
	}, gtest.ScaleMs(5000).Duration(), gtest.ScaleMs(20).Duration())

	t.Cleanup(func() { _ = conn.Close() })
	return conn, resp
}

func TestSimpleProxy_run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shard := startShard(t, ctx, pxnet.ProtocolTCP, shardEcho("shard-0"))

	cfg := serverConfig(pxnet.ProtocolTCP, pxnet.ProtocolTCP, shard)
	cfg.Validator.Network.Port = gtest.FreePort(t)
	cfg.InternalNetwork.MetricsPort = gtest.FreePort(t)

	s := newStorage(t)
	nd := pxchain.NetworkDescription{Name: "testnet"}
	require.NoError(t, s.WriteNetworkDescription(ctx, nd))

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:          cfg,
		Storage:         s,
		BlockingThreads: 2,
		Metrics:         pxmetrics.New(),
		ListenHost:      "127.0.0.1",
	})
	require.NoError(t, err)
	runErr := runProxy(ctx, p)

	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(cfg.Validator.Network.Port))
	conn, resp := exchangeEventually(
		t, pxsimple.Dialer{Transport: pxnet.TransportTCP}, addr,
		pxrpctest.ChainInfoQuery(pxchaintest.ChainID(1)),
	)
	require.Equal(t, "shard-0", resp.Error.Message)

	// Messages on one connection keep their order:
	// a local answer, a rejection, then another local answer.
	rctx, rcancel := context.WithTimeout(ctx, gtest.ScaleMs(1000).Duration())
	defer rcancel()

	require.NoError(t, conn.Send(rctx, pxrpc.Message{NetworkDescriptionQuery: &pxrpc.NetworkDescriptionQuery{}}))
	require.NoError(t, conn.Send(rctx, pxrpc.Message{Vote: &pxrpc.Vote{Round: 1}}))
	require.NoError(t, conn.Send(rctx, pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}}))

	resp, err = conn.Recv(rctx)
	require.NoError(t, err)
	require.Equal(t, nd, *resp.NetworkDescriptionResponse)

	resp, err = conn.Recv(rctx)
	require.NoError(t, err)
	require.Nil(t, resp)

	resp, err = conn.Recv(rctx)
	require.NoError(t, err)
	require.Equal(t, pxchain.CurrentVersionInfo(), *resp.VersionInfoResponse)

	metricsURL := fmt.Sprintf("http://127.0.0.1:%d/metrics", cfg.InternalNetwork.MetricsPort)
	httpResp, err := http.Get(metricsURL)
	require.NoError(t, err)
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	require.NoError(t, httpResp.Body.Close())
	require.Contains(t, string(body), `gproxy_messages_total{kind="Vote",route="rejected"} 1`)
	require.Contains(t, string(body), "gproxy_pool_running_workers")

	cancel()
	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(3000)))
}

func TestSimpleProxy_udp(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shard := startShard(t, ctx, pxnet.ProtocolUDP, shardEcho("udp-shard"))

	// Take a port that is free for UDP.
	pc := gtest.ListenUDP(t)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())

	cfg := serverConfig(pxnet.ProtocolUDP, pxnet.ProtocolUDP, shard)
	cfg.Validator.Network.Port = uint16(port)

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:     cfg,
		Storage:    newStorage(t),
		ListenHost: "127.0.0.1",
	})
	require.NoError(t, err)
	runErr := runProxy(ctx, p)

	_, resp := exchangeEventually(
		t, pxsimple.Dialer{Transport: pxnet.TransportUDP}, fmt.Sprintf("127.0.0.1:%d", port),
		pxrpctest.ChainInfoQuery(pxchaintest.ChainID(1)),
	)
	require.Equal(t, "udp-shard", resp.Error.Message)

	cancel()
	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(3000)))
}

func TestSimpleProxy_bindFailure(t *testing.T) {
	t.Parallel()

	taken := gtest.ListenTCP(t)

	cfg := serverConfig(pxnet.ProtocolTCP, pxnet.ProtocolTCP)
	cfg.Validator.Network.Port = uint16(taken.Addr().(*net.TCPAddr).Port)

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:     cfg,
		Storage:    newStorage(t),
		ListenHost: "127.0.0.1",
	})
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.ErrorContains(t, err, "failed to bind")
}

func TestGRPCProxy_runTLS(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shard := startShard(t, ctx, pxnet.ProtocolGRPC, shardEcho("grpc-shard"))

	certPath, keyPath, roots := writeTLSFiles(t)
	cfg := serverConfig(pxnet.ProtocolGRPC, pxnet.ProtocolGRPCS, shard)
	cfg.Validator.Network.Port = gtest.FreePort(t)
	cfg.Validator.Network.TLSCertPath = certPath
	cfg.Validator.Network.TLSKeyPath = keyPath

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:     cfg,
		Storage:    newStorage(t),
		ListenHost: "127.0.0.1",
	})
	require.NoError(t, err)
	runErr := runProxy(ctx, p)

	d := pxgrpc.Dialer{TLS: true, TLSConfig: &tls.Config{RootCAs: roots}}
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(cfg.Validator.Network.Port))
	conn, resp := exchangeEventually(t, d, addr, pxrpctest.ChainInfoQuery(pxchaintest.ChainID(9)))
	require.Equal(t, "grpc-shard", resp.Error.Message)

	rctx, rcancel := context.WithTimeout(ctx, gtest.ScaleMs(1000).Duration())
	defer rcancel()
	require.NoError(t, conn.Send(rctx, pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}}))
	resp, err = conn.Recv(rctx)
	require.NoError(t, err)
	require.Equal(t, pxchain.CurrentVersionInfo(), *resp.VersionInfoResponse)
	require.NoError(t, conn.Close())

	cancel()
	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(3000)))
}

func TestGRPCProxy_missingKeyPair(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := serverConfig(pxnet.ProtocolGRPC, pxnet.ProtocolGRPCS)
	cfg.Validator.Network.TLSCertPath = filepath.Join(dir, "missing.crt")
	cfg.Validator.Network.TLSKeyPath = filepath.Join(dir, "missing.key")

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:  cfg,
		Storage: newStorage(t),
	})
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.ErrorContains(t, err, "failed to load TLS key pair")
}

// writeTLSFiles writes a self-signed loopback certificate and its key as PEM files.
func writeTLSFiles(t *testing.T) (certPath, keyPath string, roots *x509.CertPool) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gproxy test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "proxy.crt")
	keyPath = filepath.Join(dir, "proxy.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	roots = x509.NewCertPool()
	roots.AddCert(cert)
	return certPath, keyPath, roots
}

func TestSimpleProxy_slowShardDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	hung := startShard(t, ctx, pxnet.ProtocolTCP, pxtransport.HandlerFunc(
		func(context.Context, pxrpc.Message) *pxrpc.Message {
			started <- struct{}{}
			<-release
			return nil
		},
	))
	t.Cleanup(func() { close(release) })

	cfg := serverConfig(pxnet.ProtocolTCP, pxnet.ProtocolTCP, hung)
	cfg.Validator.Network.Port = gtest.FreePort(t)

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:      cfg,
		Storage:     newStorage(t),
		RecvTimeout: gtest.ScaleMs(2000).Duration(),

		// Fewer than the stuck forwards below.
		BlockingThreads: 1,

		ListenHost: "127.0.0.1",
	})
	require.NoError(t, err)
	runErr := runProxy(ctx, p)

	d := pxsimple.Dialer{Transport: pxnet.TransportTCP}
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(cfg.Validator.Network.Port))
	versionQuery := pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}}
	first, _ := exchangeEventually(t, d, addr, versionQuery)

	second, err := d.Dial(ctx, addr)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Send(ctx, pxrpctest.ChainInfoQuery(pxchaintest.ChainID(1))))
	require.NoError(t, second.Send(ctx, pxrpctest.ChainInfoQuery(pxchaintest.ChainID(2))))
	_ = gtest.ReceiveOrTimeout(t, started, gtest.ScaleMs(1000))
	_ = gtest.ReceiveOrTimeout(t, started, gtest.ScaleMs(1000))

	third, err := d.Dial(ctx, addr)
	require.NoError(t, err)
	defer third.Close()

	rctx, rcancel := context.WithTimeout(ctx, gtest.ScaleMs(1000).Duration())
	defer rcancel()

	start := time.Now()
	require.NoError(t, third.Send(rctx, versionQuery))
	resp, err := third.Recv(rctx)
	require.NoError(t, err)
	require.Equal(t, pxchain.CurrentVersionInfo(), *resp.VersionInfoResponse)
	require.Less(t, time.Since(start), gtest.ScaleMs(500).Duration())

	cancel()
	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(5000)))
}

func TestGRPCProxy_shutdownWaitsForForward(t *testing.T) {
	t.Parallel()

	shardCtx, stopShard := context.WithCancel(context.Background())
	defer stopShard()

	// Several seconds, so shutdown has to wait on the forward itself.
	shardDelay := gtest.ScaleMs(2500).Duration()
	started := make(chan struct{}, 1)
	var shardFinished atomic.Bool
	shard := startShard(t, shardCtx, pxnet.ProtocolGRPC, pxtransport.HandlerFunc(
		func(ctx context.Context, m pxrpc.Message) *pxrpc.Message {
			started <- struct{}{}
			time.Sleep(shardDelay)
			shardFinished.Store(true)
			return shardEcho("late").HandleMessage(ctx, m)
		},
	))

	cfg := serverConfig(pxnet.ProtocolGRPC, pxnet.ProtocolGRPC, shard)
	cfg.Validator.Network.Port = gtest.FreePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:      cfg,
		Storage:     newStorage(t),
		RecvTimeout: 2 * shardDelay,
		ListenHost:  "127.0.0.1",
	})
	require.NoError(t, err)
	runErr := runProxy(ctx, p)

	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(cfg.Validator.Network.Port))
	conn, _ := exchangeEventually(t, pxgrpc.Dialer{}, addr, pxrpc.Message{VersionInfoQuery: &pxrpc.VersionInfoQuery{}})

	require.NoError(t, conn.Send(context.Background(), pxrpctest.ChainInfoQuery(pxchaintest.ChainID(4))))
	_ = gtest.ReceiveOrTimeout(t, started, gtest.ScaleMs(1000))

	cancel()

	rctx, rcancel := context.WithTimeout(context.Background(), 2*shardDelay)
	defer rcancel()
	resp, err := conn.Recv(rctx)
	require.NoError(t, err)
	require.Equal(t, "late", resp.Error.Message)

	require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(3000)))
	require.True(t, shardFinished.Load())
}

func TestNew_invalidServerConfig(t *testing.T) {
	t.Parallel()

	cfg := serverConfig(pxnet.ProtocolTCP, pxnet.ProtocolTCP)
	cfg.InternalNetwork.Shards = nil

	_, err := pxproxy.New(gtest.NewLogger(t), pxproxy.Config{
		Server:  cfg,
		Storage: newStorage(t),
	})
	require.ErrorContains(t, err, "invalid server config")
	require.ErrorContains(t, err, "internal network must have at least one shard")
}
