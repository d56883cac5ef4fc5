package main

import (
	"fmt"

	"github.com/rickgao/signal-relay/internal/backplane"
	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/relay"
	"github.com/rickgao/signal-relay/internal/version"
	"github.com/spf13/cobra"
)

func (a *app) serveCommand() *cobra.Command {
	var (
		addr    string
		driver  string
		channel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a relay instance",
		Long: `Serve the push endpoint, the hub transports, health and metrics on one listener.

The backplane driver (none, memory, redis, postgres) decides how instances share events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadRelay()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if driver != "" {
				cfg.Backplane.Driver = driver
			}
			if channel != "" {
				cfg.Backplane.Channel = channel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := a.newLogger(cfg.Log)
			if err != nil {
				return err
			}
			logger.Info("starting relay",
				"version", version.Version,
				"commit", version.Commit,
				"config", a.configPath,
				"backplane", cfg.Backplane.Driver,
				"channel", cfg.Backplane.Channel,
			)

			ctx := cmd.Context()
			bp, err := backplane.Open(ctx, cfg.Backplane, logger)
			if err != nil {
				return fmt.Errorf("open backplane: %w", err)
			}
			if bp != nil {
				defer bp.Close()
			}

			srv := relay.NewServer(cfg, bp, logger)
			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("relay stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringVar(&driver, "backplane", "", "backplane driver: none, memory, redis, postgres")
	cmd.Flags().StringVar(&channel, "channel", "", "backplane channel name")
	return cmd
}

// loadRelay reads the relay config, or the defaults when no file is given.
func (a *app) loadRelay() (*config.RelayConfig, error) {
	if a.configPath == "" {
		return config.DefaultRelayConfig(), nil
	}
	cfg, err := config.LoadWithDefaults(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
