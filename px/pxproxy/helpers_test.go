package pxproxy_test

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/gordian-engine/gproxy/internal/gtest"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxgrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxsimple"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// shardEcho answers every chain info query with an error message
// naming the shard, so tests can tell which shard served a request.
func shardEcho(name string) pxtransport.Handler {
	return pxtransport.HandlerFunc(func(_ context.Context, m pxrpc.Message) *pxrpc.Message {
		if m.ChainInfoQuery == nil {
			return nil
		}
		return &pxrpc.Message{Error: &pxrpc.NodeError{Code: "shard", Message: name}}
	})
}

// startShard serves h as a shard on a loopback port,
// over the given internal protocol.
func startShard(t *testing.T, ctx context.Context, p pxnet.NetworkProtocol, h pxtransport.Handler) pxnet.ShardConfig {
	t.Helper()

	var addr net.Addr
	log := gtest.NewLogger(t).With("sys", "shard")
	switch p {
	case pxnet.ProtocolTCP:
		ln := gtest.ListenTCP(t)
		addr = ln.Addr()
		srv := pxsimple.NewServer(ctx, log, pxsimple.ServerConfig{
			Transport: pxnet.TransportTCP, Listener: ln, Handler: h,
		})
		t.Cleanup(srv.Wait)
	case pxnet.ProtocolUDP:
		pc := gtest.ListenUDP(t)
		addr = pc.LocalAddr()
		srv := pxsimple.NewServer(ctx, log, pxsimple.ServerConfig{
			Transport: pxnet.TransportUDP, PacketConn: pc, Handler: h,
		})
		t.Cleanup(srv.Wait)
	case pxnet.ProtocolGRPC:
		ln := gtest.ListenTCP(t)
		addr = ln.Addr()
		srv := pxgrpc.NewServer(ctx, log, pxgrpc.ServerConfig{Listener: ln, Handler: h})
		t.Cleanup(srv.Wait)
	default:
		t.Fatalf("unsupported shard protocol %s", p)
	}

	host, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	n, err := strconv.ParseUint(port, 10, 16)
	require.NoError(t, err)
	return pxnet.ShardConfig{Host: host, Port: uint16(n)}
}

// chainOnShard returns a chain ID that the given shard owns.
func chainOnShard(t *testing.T, cfg pxnet.InternalNetworkConfig, shard pxnet.ShardID) pxchain.ChainID {
	t.Helper()

	for i := 0; i < 1000; i++ {
		id := pxchaintest.ChainID(i)
		if cfg.ShardIDFor(id) == shard {
			return id
		}
	}
	t.Fatalf("no chain found for shard %d", shard)
	return pxchain.ChainID{}
}

func gather(t *testing.T, m *pxmetrics.Metrics) map[string]*dto.MetricFamily {
	t.Helper()

	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// counterValue finds the counter in family name whose labels match
// the given name/value pairs.
func counterValue(t *testing.T, mfs map[string]*dto.MetricFamily, name string, labelPairs ...string) float64 {
	t.Helper()

	mf, ok := mfs[name]
	require.Truef(t, ok, "no metric family %q", name)

	want := make(map[string]string, len(labelPairs)/2)
	for i := 0; i < len(labelPairs); i += 2 {
		want[labelPairs[i]] = labelPairs[i+1]
	}

NEXT:
	for _, metric := range mf.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if want[lp.GetName()] != lp.GetValue() {
				continue NEXT
			}
		}
		return metric.GetCounter().GetValue()
	}
	t.Fatalf("no %s metric with labels %v", name, want)
	return 0
}
