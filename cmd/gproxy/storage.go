package main

import (
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxstore/pxstoreconfig"
	"github.com/spf13/cobra"
)

func newStorageCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "storage SUBCOMMAND",

		Short: "Manage the storage the proxy serves local queries from",
	}

	cmd.AddCommand(newStorageInitCmd(log))
	return cmd
}

func newStorageInitCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "init",

		Short: "Write the genesis network description into storage",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			v, err := newEnvViper(cmd.Flags())
			if err != nil {
				return err
			}
			ns, storageCfg, genesisPath, err := parseStorageOptions(v)
			if err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			genesis, err := pxconfig.LoadGenesisConfig(genesisPath)
			if err != nil {
				return fmt.Errorf("failed to load genesis config: %w", err)
			}

			s, err := pxstoreconfig.Open(ctx, log.With("sys", "storage"), ns, storageCfg)
			if err != nil {
				return err
			}
			defer s.Close()

			nd := genesis.NetworkDescription()
			if err := s.WriteNetworkDescription(ctx, nd); err != nil {
				return fmt.Errorf("failed to write network description: %w", err)
			}

			log.Info(
				"Initialized storage",
				"namespace", ns.String(),
				"network", nd.Name,
				"genesis_hash", nd.GenesisConfigHash,
			)
			return nil
		},
	}

	addStorageFlags(cmd.Flags())
	return cmd
}
