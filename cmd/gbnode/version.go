package main

import (
	"fmt"

	"github.com/danmuck/greybus/internal/protocols/control"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print gbnode and protocol versions",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gbnode %s (greybus control %d.%d)\n", version, control.VersionMajor, control.VersionMinor)
		},
	}
}
