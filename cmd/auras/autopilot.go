package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-auras-backend/internal/autopilot"
	"github.com/tbourn/go-auras-backend/internal/services"
)

func newAutopilotCmd() *cobra.Command {
	var (
		viewer   services.Viewer
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "autopilot <counterpartID>",
		Short: "Simulate a conversation with a counterpart and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, stateFrom(cmd).cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.svc.RunAutopilot(ctx, viewer, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			pb := autopilot.NewPlayback(out.Result.Messages, interval)
			defer pb.Stop()
			for m := range pb.Start(ctx) {
				fmt.Fprintf(w, "[%s] %s\n", m.Sender, m.Content)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			verdict := "no match"
			if out.Result.IsMatch {
				verdict = "match"
			}
			fmt.Fprintf(w, "\nverdict: %s\n", verdict)
			if out.Result.Reasoning != "" {
				fmt.Fprintf(w, "reasoning: %s\n", out.Result.Reasoning)
			}
			if out.Match != nil {
				fmt.Fprintf(w, "pending match: %s\n", out.Match.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&viewer.Name, "name", "", "viewer display name used in the conversation")
	cmd.Flags().StringVar(&viewer.ID, "user", "", "viewer id")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between printed messages (0 uses the default)")
	return cmd
}
