package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rickgao/signal-relay/internal/connection"
	"github.com/rickgao/signal-relay/internal/eventbus"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/transport"
	"github.com/spf13/cobra"
)

func (a *app) watchCommand() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect to a relay and print events as they arrive",
		Long: `Watch keeps a connection to the relay hub open, reconnecting with backoff, and prints
every received event and local status message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := a.loadClient()
			if err != nil {
				return err
			}

			transports, err := transport.Build(cfg.Relay.Transports, transport.Options{}, logger)
			if err != nil {
				return err
			}

			bus := eventbus.New(logger)
			defer bus.Close()
			local := bus.Subscribe()
			defer local.Close()

			mcfg := connection.DefaultManagerConfig()
			mcfg.BaseURL = cfg.Relay.URL
			mcfg.HubPath = cfg.Relay.HubPath
			m := connection.NewManager(mcfg, transports, logger, connection.WithBus(bus))

			events := m.Subscribe()
			defer events.Close()

			ctx := cmd.Context()
			if err := m.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				m.Stop(stopCtx)
			}()

			out := cmd.OutOrStdout()
			received := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case env, ok := <-events.C():
					if !ok {
						return nil
					}
					printEnvelope(out, env)
					received++
					if count > 0 && received >= count {
						return nil
					}
				case ev, ok := <-local.C():
					if !ok {
						return nil
					}
					printLocal(out, ev)
				}
			}
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 = run until interrupted)")
	return cmd
}

type queueCount struct {
	Queue string `json:"queue"`
	Count int64  `json:"count"`
}

func printEnvelope(w io.Writer, env model.Envelope) {
	switch env.Name() {
	case model.EventQueueCount:
		var qc queueCount
		if err := env.DecodePayload(&qc); err == nil && qc.Queue != "" {
			fmt.Fprintf(w, "[RT] Queue %s count = %d\n", qc.Queue, qc.Count)
			return
		}
	case model.EventAMQPMessage:
		fmt.Fprintf(w, "[RT] %s\n", env.Payload())
		return
	}
	fmt.Fprintf(w, "[RT] %s %s\n", env.Name(), env.Payload())
}

func printLocal(w io.Writer, ev eventbus.LocalEvent) {
	msg, ok := ev.Payload.(eventbus.MessagePayload)
	switch {
	case ev.Kind == eventbus.KindUILog && ok:
		fmt.Fprintln(w, msg.Message)
	case ev.Kind == eventbus.KindAPIError && ok:
		fmt.Fprintln(w, "API Error: "+msg.Message)
	}
}
