package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chloezql/breakingnews-sub001/client"
	"github.com/chloezql/breakingnews-sub001/domain"
)

func newWatchCmd() *cobra.Command {
	cc := &clientConfig{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join the relay as a viewer and log every card scan it broadcasts.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cc.validate(); err != nil {
				return err
			}
			return runWatch(cmd.Context(), cc.options(), logScan)
		},
	}

	fs := cmd.Flags()
	normalizeFlags(fs)
	cc.register(fs, "react_client")

	return cmd
}

func logScan(env domain.Envelope) {
	switch env.Type {
	case domain.TypeRFIDScan, domain.TypeLastRFIDScan:
		slog.Info("card scanned",
			"type", env.Type,
			"cardId", env.String("cardId"),
			"deviceId", env.String("deviceId"),
			"timestamp", env.String("timestamp"),
		)
	default:
		slog.Debug("ignoring message", "type", env.Type)
	}
}

// runWatch blocks until ctx is cancelled or the client gives up.
func runWatch(ctx context.Context, opts client.Options, onMessage func(domain.Envelope)) error {
	opts.OnMessage = onMessage
	opts.OnState = func(s client.State, status string) {
		slog.Info("relay connection", "state", s, "status", status)
	}

	c := client.New(opts)
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-c.Done():
		return errGaveUp
	}
}
