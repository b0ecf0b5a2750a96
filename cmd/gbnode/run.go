package main

import (
	"github.com/danmuck/greybus/internal/config"
	"github.com/danmuck/greybus/internal/protocols/builtin"
	"github.com/danmuck/greybus/internal/service"
	"github.com/spf13/cobra"
)

type loadFunc func() (config.NodeConfig, error)

func newRunCmd(load loadFunc) *cobra.Command {
	var mode, addr, metrics string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the node until interrupted",
		Long: `Serve the configured node on its host link until SIGINT or SIGTERM.

Examples:
  gbnode run
  gbnode run -c gbnode.toml
  gbnode run --mode bridge --addr 0.0.0.0:4242 --metrics 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				cfg.Mode = config.Mode(mode)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Link.Kind = config.LinkTCP
				cfg.Link.Addr = addr
			}
			if cmd.Flags().Changed("metrics") {
				cfg.MetricsAddr = metrics
			}
			svc, err := service.New(cfg, builtin.Registry())
			if err != nil {
				return err
			}
			return svc.Run()
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(config.ModeStandalone), "standalone or bridge")
	cmd.Flags().StringVar(&addr, "addr", "", "serve the host link on this TCP address")
	cmd.Flags().StringVar(&metrics, "metrics", "", "expose prometheus metrics on this address")
	return cmd
}
