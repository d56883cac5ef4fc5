package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/signal-relay/internal/config"
	"github.com/rickgao/signal-relay/internal/version"
	"github.com/spf13/cobra"
)

// app holds the global flags shared by every command.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "signalrelay",
		Short:   "Real-time event relay",
		Version: version.String(),
		Long: `signalrelay fans pushed events out to every connected viewer.

Run "signalrelay serve" for a relay instance. Instances sharing a backplane channel form
one logical relay. The push, watch and call commands are the producer, viewer and backend
clients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text, json (overrides config)")

	root.SetVersionTemplate("signalrelay {{.Version}}\n")

	root.AddCommand(
		a.serveCommand(),
		a.pushCommand(),
		a.watchCommand(),
		a.callCommand(),
		a.versionCommand(),
	)
	return root
}

// newLogger builds the process logger from config, with flag overrides applied.
func (a *app) newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	if a.logLevel != "" {
		cfg.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Format = a.logFormat
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(a.stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(a.stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// loadClient loads the client config and logger.
func (a *app) loadClient() (*config.ClientConfig, *slog.Logger, error) {
	cfg, err := config.LoadClient(a.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := a.newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
