// Package config assembles the interview configuration from .env, the
// environment and an optional TOML profile.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/chadiek/interview-agent/internal/interview"
)

// Providers of the pluggable primitives.
const (
	ProviderAgent    = "agent"
	ProviderDeepgram = "deepgram"
	ProviderSupabase = "supabase"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	RelayPassword string
	LogLevel      string

	AgentBaseURL string
	AgentAPIKey  string
	AgentUser    string

	ProfilePath      string
	Interview        interview.Config
	TransientPhrases []string

	SynthesisProvider string
	DeepgramKey       string
	DeepgramModel     string

	UploadProvider         string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	JournalPath string

	FFmpegInputFormat string
	// FFmpegVideoFormat overrides FFmpegInputFormat for the camera.
	FFmpegVideoFormat string
	FFmpegAudioInput  string
	FFmpegVideoInput  string

	// Warnings lists missing or invalid settings for the caller to log.
	Warnings []string
}

// Profile is the TOML interview profile.
type Profile struct {
	EnableAudio              *bool          `toml:"enable_audio"`
	AutoPlay                 *bool          `toml:"auto_play"`
	Mode                     string         `toml:"mode"`
	MaxCaptureSeconds        int            `toml:"max_capture_seconds"`
	WarningThresholdSeconds  *int           `toml:"warning_threshold_seconds"`
	WaitBeforeCaptureSeconds *int           `toml:"wait_before_capture_seconds"`
	TotalTurns               int            `toml:"total_turns"`
	GreetingQuery            string         `toml:"greeting_query"`
	FallbackQuery            string         `toml:"fallback_query"`
	ApologyAnswer            string         `toml:"apology_answer"`
	UploadTags               []string       `toml:"upload_tags"`
	TransientPhrases         []string       `toml:"transient_phrases"`
	Inputs                   map[string]any `toml:"inputs"`
	Markers                  struct {
		AuxiliaryTitle        string   `toml:"auxiliary_title"`
		CompletionPhrases     []string `toml:"completion_phrases"`
		AnalysisFailedPhrases []string `toml:"analysis_failed_phrases"`
	} `toml:"markers"`
}

// Load reads .env and the environment and returns Config with sane defaults.
func Load() Config {
	var warnings []string
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("error loading .env file: %v", err))
	}
	cfg := FromEnv(os.Getenv)
	cfg.Warnings = append(warnings, cfg.Warnings...)
	return cfg
}

// FromEnv builds Config from getenv without touching .env.
func FromEnv(getenv func(string) string) Config {
	cfg := Config{
		HTTPAddress:       getenvDefault(getenv, "HTTP_ADDRESS", ":8080"),
		LogLevel:          getenvDefault(getenv, "LOG_LEVEL", "info"),
		AgentBaseURL:      strings.TrimRight(getenv("AGENT_BASE_URL"), "/"),
		AgentAPIKey:       getenv("AGENT_API_KEY"),
		AgentUser:         getenv("AGENT_USER"),
		Interview:         interview.DefaultConfig(),
		SynthesisProvider: strings.ToLower(getenvDefault(getenv, "SYNTHESIS_PROVIDER", ProviderAgent)),
		DeepgramKey:       getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getenvDefault(getenv, "DEEPGRAM_MODEL", "aura-2-thalia-en"),
		UploadProvider:    strings.ToLower(getenvDefault(getenv, "UPLOAD_PROVIDER", ProviderAgent)),
		SupabaseURL:       getenv("SUPABASE_URL"),
		SupabaseBucket:    getenvDefault(getenv, "SUPABASE_BUCKET", "interview-recordings"),
		JournalPath:       getenv("JOURNAL_PATH"),
		FFmpegInputFormat: getenv("FFMPEG_INPUT_FORMAT"),
		FFmpegVideoFormat: getenv("FFMPEG_VIDEO_INPUT_FORMAT"),
		FFmpegAudioInput:  getenv("FFMPEG_AUDIO_INPUT"),
		FFmpegVideoInput:  getenv("FFMPEG_VIDEO_INPUT"),
	}
	cfg.SupabaseServiceRoleKey = getenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg.RelayPassword = getenv("RELAY_PASSWORD")

	cfg.ProfilePath = getenv("INTERVIEW_PROFILE")
	if cfg.ProfilePath == "" {
		cfg.ProfilePath = defaultProfilePath(getenv)
	}
	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		switch {
		case err == nil:
			cfg.apply(p)
		case errors.Is(err, fs.ErrNotExist) && getenv("INTERVIEW_PROFILE") == "":
		default:
			cfg.warn("profile %s: %v", cfg.ProfilePath, err)
		}
	}
	cfg.applyEnv(getenv)

	if cfg.AgentBaseURL == "" {
		cfg.warn("AGENT_BASE_URL not set - the agent API cannot be reached")
	}
	if cfg.AgentUser == "" {
		cfg.warn("AGENT_USER not set - requests will be refused")
	}
	if cfg.SynthesisProvider == ProviderDeepgram && cfg.DeepgramKey == "" {
		cfg.warn("DEEPGRAM_API_KEY not set - speech synthesis will not work")
	}
	if cfg.UploadProvider == ProviderSupabase && (cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "") {
		cfg.warn("SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - uploads will not work")
	}
	return cfg
}

// LoadProfile decodes a TOML profile.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (c *Config) apply(p Profile) {
	ic := &c.Interview
	if p.EnableAudio != nil {
		ic.EnableAudio = *p.EnableAudio
	}
	if p.AutoPlay != nil {
		ic.AutoPlay = *p.AutoPlay
	}
	if p.Mode != "" {
		ic.Mode = interview.ParseMode(p.Mode)
	}
	if p.MaxCaptureSeconds > 0 {
		ic.MaxCaptureSeconds = p.MaxCaptureSeconds
	}
	if p.WarningThresholdSeconds != nil {
		ic.WarningThresholdSeconds = *p.WarningThresholdSeconds
	}
	if p.WaitBeforeCaptureSeconds != nil {
		ic.WaitBeforeCaptureSeconds = *p.WaitBeforeCaptureSeconds
	}
	if p.TotalTurns > 0 {
		ic.TotalTurns = p.TotalTurns
	}
	if p.GreetingQuery != "" {
		ic.GreetingQuery = p.GreetingQuery
	}
	if p.FallbackQuery != "" {
		ic.FallbackQuery = p.FallbackQuery
	}
	if p.ApologyAnswer != "" {
		ic.ApologyAnswer = p.ApologyAnswer
	}
	if len(p.UploadTags) > 0 {
		ic.UploadTags = p.UploadTags
	}
	if len(p.Inputs) > 0 {
		ic.Inputs = p.Inputs
	}
	if p.Markers.AuxiliaryTitle != "" {
		ic.Markers.AuxiliaryTitle = p.Markers.AuxiliaryTitle
	}
	if len(p.Markers.CompletionPhrases) > 0 {
		ic.Markers.CompletionPhrases = p.Markers.CompletionPhrases
	}
	if len(p.Markers.AnalysisFailedPhrases) > 0 {
		ic.Markers.AnalysisFailedPhrases = p.Markers.AnalysisFailedPhrases
	}
	if len(p.TransientPhrases) > 0 {
		c.TransientPhrases = p.TransientPhrases
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	ic := &c.Interview
	if v := getenv("ENABLE_AUDIO"); v != "" {
		ic.EnableAudio = c.parseBool("ENABLE_AUDIO", v, ic.EnableAudio)
	}
	if v := getenv("AUTO_PLAY"); v != "" {
		ic.AutoPlay = c.parseBool("AUTO_PLAY", v, ic.AutoPlay)
	}
	if v := getenv("INTERACTION_MODE"); v != "" {
		ic.Mode = interview.ParseMode(v)
	}
	if v := getenv("MAX_CAPTURE_SECONDS"); v != "" {
		ic.MaxCaptureSeconds = c.parseInt("MAX_CAPTURE_SECONDS", v, ic.MaxCaptureSeconds)
	}
	if v := getenv("WARNING_THRESHOLD_SECONDS"); v != "" {
		ic.WarningThresholdSeconds = c.parseInt("WARNING_THRESHOLD_SECONDS", v, ic.WarningThresholdSeconds)
	}
	if v := getenv("WAIT_BEFORE_CAPTURE_SECONDS"); v != "" {
		ic.WaitBeforeCaptureSeconds = c.parseInt("WAIT_BEFORE_CAPTURE_SECONDS", v, ic.WaitBeforeCaptureSeconds)
	}
	if v := getenv("TOTAL_TURNS"); v != "" {
		ic.TotalTurns = c.parseInt("TOTAL_TURNS", v, ic.TotalTurns)
	}
	if v := getenv("GREETING_QUERY"); v != "" {
		ic.GreetingQuery = v
	}
	if v := getenv("FALLBACK_QUERY"); v != "" {
		ic.FallbackQuery = v
	}
}

func (c *Config) parseBool(key, v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		c.warn("%s=%q is not a boolean, keeping %t", key, v, def)
		return def
	}
	return b
}

func (c *Config) parseInt(key, v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		c.warn("%s=%q is not a non-negative integer, keeping %d", key, v, def)
		return def
	}
	return n
}

func (c *Config) warn(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func getenvDefault(getenv func(string) string, key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func defaultProfilePath(getenv func(string) string) string {
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "interview", "profile.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "interview", "profile.toml")
	}
	return ""
}
