package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/chadiek/interview-agent/internal/interview"
)

func NewStartCmd(deps *Dependencies) *cobra.Command {
	var opts sessionOptions
	var query string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new interview",
		Long:  "Open a new conversation with the agent. The first question is asked with the configured greeting unless --query is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, deps, opts, func(ctx context.Context, o *interview.Orchestrator) error {
				if query != "" {
					return o.StartTurn(ctx, query)
				}
				return o.Greet(ctx)
			})
		},
	}

	bindSessionFlags(cmd, &opts)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Opening message instead of the configured greeting")

	return cmd
}

func NewResumeCmd(deps *Dependencies) *cobra.Command {
	var opts sessionOptions

	cmd := &cobra.Command{
		Use:   "resume <conversation-id>",
		Short: "Resume an interview where it stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, deps, opts, func(ctx context.Context, o *interview.Orchestrator) error {
				return o.Resume(ctx, args[0])
			})
		},
	}

	bindSessionFlags(cmd, &opts)

	return cmd
}
