package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/app"
	"github.com/chadiek/interview-agent/internal/config"
)

type Dependencies struct {
	App    *app.App
	Config config.Config
	Log    *zap.SugaredLogger
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "interview",
		Short:         "Run an interview with the agent from the terminal",
		Long:          "A CLI that asks the interview agent for questions, speaks them, records your answers with ffmpeg and submits them for transcription.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewResumeCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}
