package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rickgao/signal-relay/internal/api"
	"github.com/rickgao/signal-relay/internal/eventbus"
	"github.com/spf13/cobra"
)

// backendCall runs one backend operation and returns its result for printing.
type backendCall func(ctx context.Context, c *api.Client, args []string) (any, error)

func (a *app) callCommand() *cobra.Command {
	var deadline time.Duration

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call the business backend's REST API",
		Long: `Call runs one backend operation with bounded retry. Reads are retried; publish and
ack run once. Final failures are printed as API errors.`,
	}
	cmd.PersistentFlags().DurationVar(&deadline, "deadline", 0, "overall deadline across all attempts (0 = none)")

	sub := func(use, short string, args cobra.PositionalArgs, run backendCall) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, argv []string) error {
				return a.runCall(cmd, deadline, argv, run)
			},
		}
	}

	var exchangeType string
	declareExchange := sub("declare-exchange NAME", "Declare an exchange", cobra.ExactArgs(1),
		func(ctx context.Context, c *api.Client, args []string) (any, error) {
			return c.DeclareExchange(ctx, args[0], exchangeType)
		})
	declareExchange.Flags().StringVar(&exchangeType, "type", api.DefaultExchangeType, "exchange type")

	cmd.AddCommand(
		declareExchange,
		sub("declare-queue NAME", "Declare a queue", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.DeclareQueue(ctx, args[0])
			}),
		sub("bind QUEUE EXCHANGE [ROUTING_KEY]", "Bind a queue to an exchange", cobra.RangeArgs(2, 3),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				key := ""
				if len(args) == 3 {
					key = args[2]
				}
				return c.Bind(ctx, args[0], args[1], key)
			}),
		sub("publish EXCHANGE ROUTING_KEY MESSAGE", "Publish a message", cobra.ExactArgs(3),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.Publish(ctx, args[0], args[1], args[2])
			}),
		sub("consume QUEUE", "Fetch one message from a queue", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.Consume(ctx, args[0])
			}),
		sub("ack TAG", "Acknowledge a consumed message", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				tag, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("delivery tag %q: %w", args[0], err)
				}
				return c.Ack(ctx, tag)
			}),
		sub("stats", "Show broker statistics", cobra.NoArgs,
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.Stats(ctx)
			}),
		sub("dlq-peek QUEUE", "Show a queue's dead letters", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.PeekDeadLetters(ctx, args[0])
			}),
		sub("dlq-requeue QUEUE", "Move a queue's dead letters back onto it", cobra.ExactArgs(1),
			func(ctx context.Context, c *api.Client, args []string) (any, error) {
				return c.RequeueDeadLetters(ctx, args[0])
			}),
	)
	return cmd
}

func (a *app) runCall(cmd *cobra.Command, deadline time.Duration, args []string, run backendCall) error {
	cfg, logger, err := a.loadClient()
	if err != nil {
		return err
	}

	bus := eventbus.New(logger)
	defer bus.Close()
	local := bus.Subscribe()
	defer local.Close()

	policy := api.RetryPolicy{
		MaxAttempts: cfg.API.MaxAttempts,
		Delay:       api.LinearDelay(cfg.API.RetryDelay),
	}
	caller := api.NewCaller(policy, bus, api.WithCallerLogger(logger))

	opts := []api.ClientOption{
		api.WithTimeout(cfg.API.Timeout),
		api.WithLogger(logger),
	}
	if deadline > 0 {
		opts = append(opts, api.WithCallOptions(api.WithCallDeadline(deadline)))
	}
	client := api.NewClient(cfg.API.BaseURL, caller, opts...)

	result, callErr := run(cmd.Context(), client, args)

	for local.Pending() > 0 {
		ev, ok := local.Next(cmd.Context())
		if !ok {
			break
		}
		printLocal(cmd.ErrOrStderr(), ev)
	}
	if callErr != nil {
		return callErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
