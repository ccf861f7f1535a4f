package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/output"
	"github.com/chadiek/interview-agent/internal/playback"
)

const settleTimeout = 30 * time.Second

// sessionOptions override the configured interview for one run.
type sessionOptions struct {
	mode    string
	noAudio bool
}

func (o sessionOptions) apply(ic interview.Config) interview.Config {
	if o.mode != "" {
		ic.Mode = interview.ParseMode(o.mode)
	}
	if o.noAudio {
		ic.EnableAudio = false
	}
	return ic
}

func bindSessionFlags(cmd *cobra.Command, opts *sessionOptions) {
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Answer mode: text, audio or video (default from config)")
	cmd.Flags().BoolVar(&opts.noAudio, "no-audio", false, "Do not speak the questions")
}

const helpText = `Type your answer and press Enter. In audio and video mode, press Enter to stop recording.
Commands: /play  /retry  /stop  /good  /bad  /status  /quit`

// runSession hosts one interview on the terminal until it completes, the
// input ends or the user quits.
func runSession(cmd *cobra.Command, deps *Dependencies, opts sessionOptions, begin func(ctx context.Context, o *interview.Orchestrator) error) error {
	f := output.NewFormatter(cmd.OutOrStdout())
	ic := opts.apply(deps.Config.Interview)

	var dev capture.Device
	if ic.Mode != interview.ModeText {
		dev = &capture.FFmpegDevice{
			InputFormat:      deps.Config.FFmpegInputFormat,
			VideoInputFormat: deps.Config.FFmpegVideoFormat,
			AudioInput:       deps.Config.FFmpegAudioInput,
			VideoInput:       deps.Config.FFmpegVideoInput,
		}
	}
	var player playback.Player
	if ic.EnableAudio {
		player = playback.FFPlayPlayer{}
	}

	con := newConsole(f)
	o := deps.App.WithInterview(ic).Session(dev, player, con)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Close()

	f.Info(helpText)
	if err := begin(ctx, o); err != nil {
		return err
	}

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case <-con.completed:
			waitSettled(o, settleTimeout)
			return nil
		case <-o.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				waitSettled(o, settleTimeout)
				return nil
			}
			if quit := handleLine(ctx, o, con, f, line); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, o *interview.Orchestrator, con *console, f *output.Formatter, line string) bool {
	line = strings.TrimSpace(line)
	var err error
	switch line {
	case "":
		if o.Snapshot().Recording {
			err = o.StopCapture()
		}
	case "/quit", "/exit":
		return true
	case "/play":
		err = o.PlayAudio()
	case "/retry":
		err = o.RetryCapture()
	case "/stop":
		err = o.StopCapture()
	case "/good", "/bad":
		rating := "like"
		if line == "/bad" {
			rating = "dislike"
		}
		if err = o.SubmitFeedback(ctx, con.last(), rating); err == nil {
			f.Success("Feedback sent.")
		}
	case "/status":
		s := o.Snapshot()
		f.Info("Phase " + s.Phase.String() + ", conversation " + s.ConversationID)
	case "/help":
		f.Info(helpText)
	default:
		err = o.StartTurn(ctx, line)
	}
	if err != nil {
		f.Error(err.Error())
	}
	return false
}

// waitSettled waits for in-flight work to end so the last answer is shown.
// A pending capture counts as settled since nobody is left to answer.
func waitSettled(o *interview.Orchestrator, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		switch o.Snapshot().Phase {
		case interview.PhaseIdle, interview.PhaseCompleted, interview.PhaseError,
			interview.PhaseAwaitingPlayback, interview.PhaseWaitingToCapture, interview.PhaseCapturing,
			interview.PhaseClosed:
			return
		}
		select {
		case <-o.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
