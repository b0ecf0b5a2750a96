package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/protocols/builtin"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Node config helpers",
	}
	var kind string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", kind, args[0])
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "standalone", "standalone or bridge")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the protocol drivers a cport can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROTOCOL\tCLASS\tDESCRIPTION")
			for _, meta := range builtin.Registry().ListMetadata() {
				fmt.Fprintf(w, "%s\t0x%02x\t0x%02x\t%s\n", meta.ID, uint8(meta.Protocol), uint8(meta.Class), meta.Description)
			}
			return w.Flush()
		},
	}
}
