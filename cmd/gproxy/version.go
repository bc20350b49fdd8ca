package main

import (
	"encoding/json"

	"github.com/gordian-engine/gproxy/px/pxchain"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use: "version",

		Short: "Print version information as JSON",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pxchain.CurrentVersionInfo())
		},
	}
}
