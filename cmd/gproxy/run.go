package main

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/gordian-engine/gproxy/internal/glog"
	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxmetrics"
	"github.com/gordian-engine/gproxy/px/pxproxy"
	"github.com/gordian-engine/gproxy/px/pxstore"
	"github.com/gordian-engine/gproxy/px/pxstore/pxcache"
	"github.com/gordian-engine/gproxy/px/pxstore/pxstoreconfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// runOptions holds the resolved values of the run flags.
type runOptions struct {
	SendTimeout, RecvTimeout time.Duration

	WorkerThreads, BlockingThreads int

	Storage     pxstoreconfig.Namespace
	StorageConf pxstore.CommonConfig

	GenesisPath string
}

func addStorageFlags(fs *pflag.FlagSet) {
	defaults := pxstore.DefaultCommonConfig()

	fs.String("storage", "", "Storage namespace: memory, sqlite:<path> or badger:<path> (required)")
	fs.Int("max-concurrent-queries", defaults.MaxConcurrentQueries, "Maximum storage queries in flight; 0 is unlimited")
	fs.Int("max-stream-queries", defaults.MaxStreamQueries, "Parallel chunks within one multi-key storage read")
	fs.Int("max-cache-size", defaults.Cache.MaxCacheSize, "Maximum bytes held by the storage cache")
	fs.Int("max-entry-size", defaults.Cache.MaxEntrySize, "Largest value the storage cache will hold")
	fs.Int("max-cache-entries", defaults.Cache.MaxCacheEntries, "Maximum entries held by the storage cache")
	fs.String("genesis", "", "Path to the genesis configuration JSON (required)")
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.Int64("send-timeout-ms", pxproxy.DefaultSendTimeout.Milliseconds(), "Milliseconds allowed to dial a shard and send it a message")
	fs.Int64("recv-timeout-ms", pxproxy.DefaultRecvTimeout.Milliseconds(), "Milliseconds allowed for a shard's response")
	fs.Int("worker-threads", 0, "GOMAXPROCS for the process; 0 leaves it unchanged")
	fs.Int("blocking-threads", 0, "gRPC stream workers kept ready; 0 is the number of CPUs")
	addStorageFlags(fs)
}

// newRunViper binds fs to the environment,
// including the two timeout variables whose names differ from their flags.
func newRunViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v, err := newEnvViper(fs)
	if err != nil {
		return nil, err
	}
	if err := v.BindEnv("send-timeout-ms", envPrefix+"_SEND_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("recv-timeout-ms", envPrefix+"_RECV_TIMEOUT"); err != nil {
		return nil, err
	}
	return v, nil
}

// parseStorageOptions reads the storage flags shared by run and storage init.
func parseStorageOptions(v *viper.Viper) (pxstoreconfig.Namespace, pxstore.CommonConfig, string, error) {
	var errs []error

	ns, err := pxstoreconfig.ParseNamespace(v.GetString("storage"))
	if err != nil {
		errs = append(errs, fmt.Errorf("--storage: %w", err))
	}

	cfg := pxstore.CommonConfig{
		MaxConcurrentQueries: v.GetInt("max-concurrent-queries"),
		MaxStreamQueries:     v.GetInt("max-stream-queries"),
		Cache: pxstore.CacheConfig{
			MaxCacheSize:    v.GetInt("max-cache-size"),
			MaxEntrySize:    v.GetInt("max-entry-size"),
			MaxCacheEntries: v.GetInt("max-cache-entries"),
		},
	}
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	genesis := v.GetString("genesis")
	if genesis == "" {
		errs = append(errs, errors.New("--genesis is required"))
	}

	return ns, cfg, genesis, errors.Join(errs...)
}

func parseRunOptions(v *viper.Viper) (runOptions, error) {
	var errs []error

	ns, storageCfg, genesis, err := parseStorageOptions(v)
	if err != nil {
		errs = append(errs, err)
	}

	o := runOptions{
		SendTimeout:     time.Duration(v.GetInt64("send-timeout-ms")) * time.Millisecond,
		RecvTimeout:     time.Duration(v.GetInt64("recv-timeout-ms")) * time.Millisecond,
		WorkerThreads:   v.GetInt("worker-threads"),
		BlockingThreads: v.GetInt("blocking-threads"),
		Storage:         ns,
		StorageConf:     storageCfg,
		GenesisPath:     genesis,
	}

	if o.SendTimeout <= 0 {
		errs = append(errs, fmt.Errorf("send timeout must be positive, got %s", o.SendTimeout))
	}
	if o.RecvTimeout <= 0 {
		errs = append(errs, fmt.Errorf("recv timeout must be positive, got %s", o.RecvTimeout))
	}
	if o.WorkerThreads < 0 {
		errs = append(errs, errors.New("worker threads must not be negative"))
	}
	if o.BlockingThreads < 0 {
		errs = append(errs, errors.New("blocking threads must not be negative"))
	}

	return o, errors.Join(errs...)
}

func newRunCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "run CONFIG_PATH",

		Short: "Run the proxy until interrupted",

		Long: `run serves the public network described in the validator server configuration,
forwarding chain-addressed messages to the configured shards.

Every flag may be set through the environment as GPROXY_<FLAG>,
with dashes as underscores; the timeouts are GPROXY_SEND_TIMEOUT and GPROXY_RECV_TIMEOUT.
`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			v, err := newRunViper(cmd.Flags())
			if err != nil {
				return err
			}
			o, err := parseRunOptions(v)
			if err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			serverCfg, err := pxconfig.LoadServerConfig(args[0])
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			genesis, err := pxconfig.LoadGenesisConfig(o.GenesisPath)
			if err != nil {
				return fmt.Errorf("failed to load genesis config: %w", err)
			}

			if o.WorkerThreads > 0 {
				runtime.GOMAXPROCS(o.WorkerThreads)
			}

			log := log.With("validator", glog.Hex(serverCfg.Validator.PublicKey))

			s, err := pxstoreconfig.Open(ctx, log.With("sys", "storage"), o.Storage, o.StorageConf)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					log.Warn("Failed to close storage", "err", err)
				}
			}()

			if err := checkGenesis(cmd, log, s, genesis); err != nil {
				return err
			}

			m := pxmetrics.New()
			if c, ok := s.KV().(*pxcache.KV); ok {
				m.RegisterCache(c)
			}

			p, err := pxproxy.New(log.With("sys", "proxy"), pxproxy.Config{
				Server:          serverCfg,
				Storage:         s,
				SendTimeout:     o.SendTimeout,
				RecvTimeout:     o.RecvTimeout,
				BlockingThreads: o.BlockingThreads,
				Metrics:         m,
			})
			if err != nil {
				return fmt.Errorf("failed to create proxy: %w", err)
			}

			log.Info(
				"Starting proxy",
				"public_protocol", serverCfg.Validator.Network.Protocol,
				"internal_protocol", serverCfg.InternalNetwork.Protocol,
				"shards", len(serverCfg.InternalNetwork.Shards),
				"send_timeout", o.SendTimeout,
				"recv_timeout", o.RecvTimeout,
			)
			return p.Run(ctx)
		},
	}

	addRunFlags(cmd.Flags())
	return cmd
}

// checkGenesis fails if storage was initialized from a different genesis.
// Storage without a network description is allowed, with a warning.
func checkGenesis(cmd *cobra.Command, log *slog.Logger, s pxstore.Storage, genesis pxconfig.GenesisConfig) error {
	nd, err := s.ReadNetworkDescription(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read network description: %w", err)
	}

	want := genesis.Hash()
	if nd == nil {
		log.Warn(
			"Storage has no network description; run 'gproxy storage init' to write it",
			"genesis_hash", want,
		)
		return nil
	}
	if nd.GenesisConfigHash != want {
		return fmt.Errorf(
			"storage was initialized with genesis %s but the genesis config hashes to %s",
			nd.GenesisConfigHash, want,
		)
	}
	return nil
}
