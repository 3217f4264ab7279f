package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/keyreply/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "keyreply %s\n", info)
			if info.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", info.BuildTime)
			}
		},
	}
}
