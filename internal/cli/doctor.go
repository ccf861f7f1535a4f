package cli

import (
	"github.com/spf13/cobra"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/config"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/output"
	"github.com/chadiek/interview-agent/internal/playback"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			cfg := deps.Config
			ok := true
			check := func(name string, passed bool, good, bad string) {
				if passed {
					f.SetupCheck(name, true, good)
					return
				}
				f.SetupCheck(name, false, bad)
				ok = false
			}

			voice := cfg.Interview.Mode != interview.ModeText
			if voice {
				dev := &capture.FFmpegDevice{}
				err := dev.CheckFFmpeg()
				check("ffmpeg", err == nil, "installed", errText(err))
			}
			if cfg.Interview.EnableAudio {
				err := playback.FFPlayPlayer{}.CheckFFPlay()
				check("ffplay", err == nil, "installed", errText(err))
			}

			check("Agent base URL", cfg.AgentBaseURL != "", cfg.AgentBaseURL, "not set. Set AGENT_BASE_URL")
			check("Agent user", cfg.AgentUser != "", cfg.AgentUser, "not set. Set AGENT_USER")

			if cfg.Interview.EnableAudio && cfg.SynthesisProvider == config.ProviderDeepgram {
				check("Deepgram API key", cfg.DeepgramKey != "", "configured", "not set. Set DEEPGRAM_API_KEY")
			}
			if voice && cfg.UploadProvider == config.ProviderSupabase {
				check("Supabase storage", cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "",
					cfg.SupabaseBucket, "not set. Set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
			}

			if deps.App != nil && deps.App.Journal() != nil {
				f.SetupCheck("Turn journal", true, "enabled")
			} else {
				f.SetupCheck("Turn journal", true, "disabled")
			}
			f.SetupCheck("Interview mode", true, string(cfg.Interview.Mode))

			for _, w := range cfg.Warnings {
				f.Warning(w)
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to interview!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
