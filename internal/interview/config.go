package interview

import (
	"strings"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/protocol"
)

// InteractionMode selects how the candidate answers.
type InteractionMode string

const (
	ModeText  InteractionMode = "text"
	ModeAudio InteractionMode = "audio"
	ModeVideo InteractionMode = "video"
)

// ParseMode maps a config value onto a mode, defaulting to video.
func ParseMode(s string) InteractionMode {
	switch InteractionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeText:
		return ModeText
	case ModeAudio:
		return ModeAudio
	default:
		return ModeVideo
	}
}

// Config parameterizes one interview. Differences between interview flavours
// are expressed here rather than in control flow.
type Config struct {
	// EnableAudio attempts speech synthesis of every answer.
	EnableAudio bool
	// AutoPlay plays synthesized speech without waiting for the candidate.
	AutoPlay bool
	Mode     InteractionMode

	MaxCaptureSeconds        int
	WarningThresholdSeconds  int
	WaitBeforeCaptureSeconds int
	// TotalTurns is the expected number of answered turns; 0 disables the check.
	TotalTurns int

	GreetingQuery string
	// FallbackQuery replaces an empty transcription.
	FallbackQuery string
	// ApologyAnswer is recorded on a turn whose stream failed.
	ApologyAnswer string

	Markers    protocol.Markers
	UploadTags []string
	// Inputs are sent with every chat request.
	Inputs map[string]any
}

// DefaultConfig returns a voice-enabled video interview.
func DefaultConfig() Config {
	return Config{
		EnableAudio:              true,
		AutoPlay:                 true,
		Mode:                     ModeVideo,
		MaxCaptureSeconds:        180,
		WarningThresholdSeconds:  30,
		WaitBeforeCaptureSeconds: 10,
		GreetingQuery:            "Hello",
		FallbackQuery:            "next question",
		ApologyAnswer:            "Sorry, something went wrong while answering. Please try again.",
		Markers:                  protocol.DefaultMarkers(),
		UploadTags:               []string{"interview"},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxCaptureSeconds <= 0 {
		c.MaxCaptureSeconds = def.MaxCaptureSeconds
	}
	if c.WarningThresholdSeconds < 0 {
		c.WarningThresholdSeconds = 0
	}
	if c.WaitBeforeCaptureSeconds < 0 {
		c.WaitBeforeCaptureSeconds = 0
	}
	if strings.TrimSpace(c.GreetingQuery) == "" {
		c.GreetingQuery = def.GreetingQuery
	}
	if strings.TrimSpace(c.FallbackQuery) == "" {
		c.FallbackQuery = def.FallbackQuery
	}
	if strings.TrimSpace(c.ApologyAnswer) == "" {
		c.ApologyAnswer = def.ApologyAnswer
	}
	if c.Markers.AuxiliaryTitle == "" && len(c.Markers.CompletionPhrases) == 0 && len(c.Markers.AnalysisFailedPhrases) == 0 {
		c.Markers = def.Markers
	}
	return c
}

// CaptureConfig is the capture controller configuration of the mode.
func (c Config) CaptureConfig() capture.Config {
	mode := capture.ModeAudioVideo
	if c.Mode == ModeAudio {
		mode = capture.ModeAudioOnly
	}
	return capture.Config{
		Mode:             mode,
		MaxDuration:      c.MaxCaptureSeconds,
		WarningThreshold: c.WarningThresholdSeconds,
	}
}
