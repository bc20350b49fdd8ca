package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordian-engine/gproxy/internal/gtest"
	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxchain/pxchaintest"
	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/gordian-engine/gproxy/px/pxrpc"
	"github.com/gordian-engine/gproxy/px/pxtransport/pxsimple"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func runCmdSync(
	ctx context.Context,
	log *slog.Logger,
	args ...string,
) (outBuf, errBuf *bytes.Buffer, err error) {
	outBuf = new(bytes.Buffer)
	errBuf = new(bytes.Buffer)

	cmd := NewRootCmd(log, nil)
	cmd.SetArgs(args)
	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)

	err = cmd.ExecuteContext(ctx)
	return outBuf, errBuf, err
}

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p
}

func testServerConfig(publicPort uint16, shards ...pxnet.ShardConfig) pxconfig.ValidatorServerConfig {
	if len(shards) == 0 {
		shards = []pxnet.ShardConfig{{Host: "127.0.0.1", Port: 9100}}
	}
	return pxconfig.ValidatorServerConfig{
		Validator: pxconfig.ValidatorConfig{
			PublicKey: pxconfig.ValidatorPublicKey{0x01, 0x02, 0x03},
			Network: pxnet.PublicNetworkConfig{
				Protocol: pxnet.ProtocolTCP,
				Host:     "127.0.0.1",
				Port:     publicPort,
			},
		},
		InternalNetwork: pxnet.InternalNetworkConfig{
			Protocol: pxnet.ProtocolTCP,
			Shards:   shards,
		},
	}
}

func testGenesis(name string) pxconfig.GenesisConfig {
	return pxconfig.GenesisConfig{
		NetworkName:  name,
		Timestamp:    1_700_000_000_000_000,
		AdminChainID: pxchaintest.ChainID(0),
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, _, err := runCmdSync(context.Background(), gtest.NewLogger(t), "version")
	require.NoError(t, err)

	var v pxchain.VersionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	require.Equal(t, pxchain.CurrentVersionInfo(), v)
}

func TestShardCmd(t *testing.T) {
	t.Parallel()

	cfg := testServerConfig(9000,
		pxnet.ShardConfig{Host: "10.0.0.1", Port: 9100},
		pxnet.ShardConfig{Host: "10.0.0.2", Port: 9100},
		pxnet.ShardConfig{Host: "10.0.0.3", Port: 9100},
	)
	cfgPath := writeJSON(t, t.TempDir(), "server.json", cfg)

	for i := range 10 {
		chainID := pxchaintest.ChainID(i)

		out, _, err := runCmdSync(context.Background(), gtest.NewLogger(t), "shard", cfgPath, chainID.String())
		require.NoError(t, err)

		var got shardOutput
		require.NoError(t, json.Unmarshal(out.Bytes(), &got))
		require.Equal(t, chainID, got.ChainID)
		require.Equal(t, cfg.InternalNetwork.ShardIDFor(chainID), got.ShardID)
		require.Equal(t, cfg.InternalNetwork.ShardFor(chainID).Address(), got.Address)
	}
}

func TestShardCmd_badChainID(t *testing.T) {
	t.Parallel()

	cfgPath := writeJSON(t, t.TempDir(), "server.json", testServerConfig(9000))

	_, _, err := runCmdSync(context.Background(), gtest.NewLogger(t), "shard", cfgPath, "not-hex")
	require.ErrorContains(t, err, "invalid chain ID")
}

func TestRunCmd_invalidFlags(t *testing.T) {
	t.Parallel()

	cfgPath := writeJSON(t, t.TempDir(), "server.json", testServerConfig(9000))

	_, _, err := runCmdSync(
		context.Background(), gtest.NewLogger(t),
		"run", cfgPath, "--storage", "floppy:/a", "--send-timeout-ms", "0",
	)
	require.ErrorContains(t, err, "invalid flags")
	require.ErrorContains(t, err, "unknown storage namespace")
	require.ErrorContains(t, err, "send timeout must be positive")
	require.ErrorContains(t, err, "--genesis is required")
}

func TestRootCmd_badLogLevel(t *testing.T) {
	t.Parallel()

	_, _, err := runCmdSync(context.Background(), gtest.NewLogger(t), "--log-level", "loud", "version")
	require.ErrorContains(t, err, "invalid log level")
}

func TestRootCmd_logLevel(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	cmd := NewRootCmd(gtest.NewLogger(t), &level)
	cmd.SetArgs([]string{"--log-level", "debug", "version"})
	cmd.SetOut(new(bytes.Buffer))
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	require.Equal(t, slog.LevelDebug, level.Level())
}

func TestStorageInitAndRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	storage := "sqlite:" + filepath.Join(dir, "proxy.sqlite")
	genesis := testGenesis("testnet")
	genesisPath := writeJSON(t, dir, "genesis.json", genesis)
	otherGenesisPath := writeJSON(t, dir, "other.json", testGenesis("othernet"))

	port := gtest.FreePort(t)
	cfgPath := writeJSON(t, dir, "server.json", testServerConfig(port))

	_, _, err := runCmdSync(ctx, gtest.NewLogger(t), "storage", "init", "--storage", storage, "--genesis", genesisPath)
	require.NoError(t, err)

	t.Run("genesis mismatch is fatal", func(t *testing.T) {
		_, _, err := runCmdSync(ctx, gtest.NewLogger(t), "run", cfgPath, "--storage", storage, "--genesis", otherGenesisPath)
		require.ErrorContains(t, err, "storage was initialized with genesis")
	})

	t.Run("serves the stored description", func(t *testing.T) {
		runCtx, stop := context.WithCancel(ctx)
		defer stop()

		runErr := make(chan error, 1)
		go func() {
			_, _, err := runCmdSync(
				runCtx, gtest.NewLogger(t),
				"run", cfgPath,
				"--storage", storage,
				"--genesis", genesisPath,
				"--blocking-threads", "2",
				"--recv-timeout-ms", "500",
			)
			runErr <- err
		}()

		query := pxrpc.Message{NetworkDescriptionQuery: &pxrpc.NetworkDescriptionQuery{}}
		var resp *pxrpc.Message
		require.Eventually(t, func() bool {
			qctx, qcancel := context.WithTimeout(ctx, time.Second)
			defer qcancel()

			conn, err := pxsimple.Dialer{Transport: pxnet.TransportTCP}.Dial(qctx, fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				return false
			}
			defer conn.Close()

			if err := conn.Send(qctx, query); err != nil {
				return false
			}
			resp, err = conn.Recv(qctx)
			return err == nil && resp != nil
		}, gtest.ScaleMs(5000).Duration(), gtest.ScaleMs(20).Duration())

		require.Equal(t, genesis.NetworkDescription(), *resp.NetworkDescriptionResponse)

		stop()
		require.NoError(t, gtest.ReceiveOrTimeout(t, runErr, gtest.ScaleMs(3000)))
	})
}

// The tests below modify the process environment, so they do not run in parallel.

func TestParseRunOptions_env(t *testing.T) {
	t.Setenv("GPROXY_SEND_TIMEOUT", "1500")
	t.Setenv("GPROXY_RECV_TIMEOUT", "2500")
	t.Setenv("GPROXY_STORAGE", "badger:/var/lib/gproxy")
	t.Setenv("GPROXY_GENESIS", "/etc/gproxy/genesis.json")
	t.Setenv("GPROXY_MAX_CACHE_ENTRIES", "5")
	t.Setenv("GPROXY_BLOCKING_THREADS", "3")

	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunFlags(fs)
	// An explicit flag beats the environment.
	require.NoError(t, fs.Parse([]string{"--recv-timeout-ms", "250"}))

	v, err := newRunViper(fs)
	require.NoError(t, err)
	o, err := parseRunOptions(v)
	require.NoError(t, err)

	require.Equal(t, 1500*time.Millisecond, o.SendTimeout)
	require.Equal(t, 250*time.Millisecond, o.RecvTimeout)
	require.Equal(t, "badger:/var/lib/gproxy", o.Storage.String())
	require.Equal(t, "/etc/gproxy/genesis.json", o.GenesisPath)
	require.Equal(t, 5, o.StorageConf.Cache.MaxCacheEntries)
	require.Equal(t, 10, o.StorageConf.MaxStreamQueries)
	require.Equal(t, 3, o.BlockingThreads)
	require.Zero(t, o.WorkerThreads)
}

func TestRootCmd_envFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "gproxy.env")
	require.NoError(t, os.WriteFile(envPath, []byte("GPROXY_MAX_STREAM_QUERIES=0\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("GPROXY_MAX_STREAM_QUERIES") })

	cfgPath := writeJSON(t, dir, "server.json", testServerConfig(9000))
	genesisPath := writeJSON(t, dir, "genesis.json", testGenesis("testnet"))

	_, _, err := runCmdSync(
		context.Background(), gtest.NewLogger(t),
		"run", cfgPath, "--storage", "memory", "--genesis", genesisPath, "--env-file", envPath,
	)
	require.ErrorContains(t, err, "max stream queries must be positive")
}
