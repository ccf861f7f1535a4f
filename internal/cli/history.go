package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/output"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	var limit int
	var remote bool

	cmd := &cobra.Command{
		Use:   "history [conversation-id]",
		Short: "List journaled interviews, or the turns of one",
		Long:  "Without arguments, list the most recent conversations in the local journal.\nWith a conversation id, print its turns; --remote reloads them from the agent instead.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			ctx := cmd.Context()

			if len(args) == 1 && remote {
				res, err := deps.App.History().Load(ctx, args[0])
				if err != nil {
					return err
				}
				for i, turn := range res.Turns {
					f.TurnItem(i+1, turn.Query, turn.PreferredText(), turn.Status != conversation.StatusNormal)
				}
				if res.Ended {
					f.Info("This interview has ended.")
				}
				return nil
			}

			store := deps.App.Journal()
			if store == nil {
				f.Warning("The turn journal is disabled (JOURNAL_PATH=off).")
				return nil
			}

			if len(args) == 1 {
				entries, err := store.Turns(ctx, args[0])
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					f.Info(fmt.Sprintf("No journaled turns for %s", args[0]))
					return nil
				}
				for _, e := range entries {
					answer := e.Answer
					if e.AuxiliaryText != "" {
						answer = e.AuxiliaryText
					}
					f.TurnItem(e.QuestionIndex, e.Query, answer, e.Status != conversation.StatusNormal)
				}
				return nil
			}

			list, err := store.Conversations(ctx, limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				f.Info("No conversations journaled")
				return nil
			}
			f.ConversationListHeader()
			for _, s := range list {
				f.ConversationListItem(s.ConversationID, s.Turns, s.LastAt)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of conversations to list")
	cmd.Flags().BoolVar(&remote, "remote", false, "Load the turns from the agent instead of the journal")

	return cmd
}
