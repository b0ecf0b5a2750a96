package main

import (
	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "gbnode",
		Short:         "Greybus node and AP bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "node config file (TOML)")

	load := func() (config.NodeConfig, error) {
		if configPath == "" {
			return config.Default(), nil
		}
		return config.Load(configPath)
	}

	root.AddCommand(
		newRunCmd(load),
		newManifestCmd(load),
		newConfigCmd(),
		newProtocolsCmd(),
		newVersionCmd(),
	)
	return root
}
