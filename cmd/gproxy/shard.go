package main

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/gordian-engine/gproxy/px/pxconfig"
	"github.com/gordian-engine/gproxy/px/pxnet"
	"github.com/spf13/cobra"
)

type shardOutput struct {
	ChainID pxchain.ChainID `json:"chain_id"`
	ShardID pxnet.ShardID   `json:"shard_id"`
	Address string          `json:"address"`
}

func newShardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "shard CONFIG_PATH CHAIN_ID",

		Short: "Print the shard that owns a chain",

		Long: `shard prints, as JSON, which of the configured shards handles the given chain.

The assignment depends only on the chain ID and the shard list,
so any client holding the same configuration computes the same answer.
`,

		Args: cobra.ExactArgs(2),

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pxconfig.LoadServerConfig(args[0])
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			chainID, err := pxchain.ParseChainID(args[1])
			if err != nil {
				return fmt.Errorf("invalid chain ID: %w", err)
			}

			internal := cfg.InternalNetwork
			out := shardOutput{
				ChainID: chainID,
				ShardID: internal.ShardIDFor(chainID),
				Address: internal.ShardFor(chainID).Address(),
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	return cmd
}
