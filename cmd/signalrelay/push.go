package main

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/signal-relay/internal/pusher"
	"github.com/spf13/cobra"
)

func (a *app) pushCommand() *cobra.Command {
	var bestEffort bool

	cmd := &cobra.Command{
		Use:   "push EVENT [PAYLOAD]",
		Short: "Push an event to a relay",
		Long: `Push sends {Event, Payload} to the relay's push endpoint. PAYLOAD must be JSON
and defaults to null.`,
		Example: `  signalrelay push amqpMessage '{"queue":"orders","message":"hello"}'
  signalrelay push queueCount '{"queue":"orders","count":3}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.loadClient()
			if err != nil {
				return err
			}

			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON: %s", args[1])
				}
				payload = json.RawMessage(args[1])
			}

			client := pusher.NewClient(cfg.Relay.URL+cfg.Relay.PushPath,
				pusher.WithTimeout(cfg.Relay.PushTimeout),
				pusher.WithLogger(logger),
			)

			if bestEffort {
				client.Push(cmd.Context(), args[0], payload)
				return nil
			}
			if err := client.Send(cmd.Context(), args[0], payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "log failures instead of exiting non-zero")
	return cmd
}
