// Command gproxy runs the proxy in front of a validator's shards.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to the upper-cased flag name
// to form the environment variable that overrides the flag.
const envPrefix = "GPROXY"

func main() {
	if err := mainE(); err != nil {
		os.Exit(1)
	}
}

func mainE() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))

	root := NewRootCmd(logger, &level)
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Info("Failure", "err", err)
		os.Stderr.Sync()
		return err
	}

	return nil
}

// NewRootCmd returns the gproxy command tree.
// The --log-level flag adjusts level, if level is non-nil.
func NewRootCmd(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	rootCmd := &cobra.Command{
		Use: "gproxy SUBCOMMAND",

		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},

		SilenceUsage: true,

		Long: `gproxy is the public entry point of a validator.

It answers version, network description and blob queries from storage,
and forwards every chain-addressed message to the shard that owns the chain.
`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, err := cmd.Flags().GetString("env-file")
			if err != nil {
				return err
			}
			if envFile != "" {
				// Variables already set in the environment take precedence.
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load env file: %w", err)
				}
			}

			lvl, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			var l slog.Level
			if err := l.UnmarshalText([]byte(lvl)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", lvl, err)
			}
			if level != nil {
				level.Set(l)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "info", "Minimum level of log output (debug|info|warn|error)")
	pf.String("env-file", "", "Path to a dotenv file with GPROXY_ variables to load before reading flags")

	rootCmd.AddCommand(
		newRunCmd(log),
		newStorageCmd(log),
		newShardCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// newEnvViper returns a viper instance where every flag in fs
// can be overridden by its GPROXY_ environment variable.
func newEnvViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}
