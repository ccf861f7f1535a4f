// Package app builds interview sessions from the loaded configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/agentapi"
	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/config"
	"github.com/chadiek/interview-agent/internal/history"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/journal"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/playback"
	"github.com/chadiek/interview-agent/internal/storage"
	"github.com/chadiek/interview-agent/internal/tts"
)

// ClipRoute is where the relay server exposes locally synthesized clips.
const ClipRoute = "/clips/"

// App holds the collaborators shared by every session.
type App struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	agent   *agentapi.Client
	history *history.Loader

	synth    playback.Synthesizer
	clipDir  string
	uploader capture.Uploader

	journal  *journal.Store
	recorder *journal.Recorder
}

// New wires the agent client, the synthesis and upload providers and the
// journal. A journal that cannot be opened is logged and skipped.
func New(cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	log = logging.OrNop(log)
	agent := &agentapi.Client{
		BaseURL: cfg.AgentBaseURL,
		APIKey:  cfg.AgentAPIKey,
		User:    cfg.AgentUser,
		Log:     log.Named("agent"),
	}
	loader := history.NewLoader(agent, log.Named("history"))
	if len(cfg.TransientPhrases) > 0 {
		loader.TransientPhrases = cfg.TransientPhrases
	}
	a := &App{cfg: cfg, log: log, agent: agent, history: loader}

	switch cfg.SynthesisProvider {
	case config.ProviderDeepgram:
		a.clipDir = filepath.Join(os.TempDir(), "interview-clips")
		if err := os.MkdirAll(a.clipDir, 0o755); err != nil {
			return nil, fmt.Errorf("create clip dir: %w", err)
		}
		a.synth = tts.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel, a.clipDir, log.Named("deepgram"))
	case config.ProviderAgent, "":
		a.synth = agent
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", cfg.SynthesisProvider)
	}

	switch cfg.UploadProvider {
	case config.ProviderSupabase:
		up, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		}, log.Named("storage"))
		if err != nil {
			return nil, err
		}
		a.uploader = up
	case config.ProviderAgent, "":
		a.uploader = agent
	default:
		return nil, fmt.Errorf("unknown upload provider %q", cfg.UploadProvider)
	}

	if cfg.JournalPath != "off" {
		path := cfg.JournalPath
		if path == "" {
			path = journal.DefaultPath()
		}
		store, err := journal.Open(path)
		if err != nil {
			log.Warnw("turn journal disabled", "path", path, "error", err)
		} else {
			a.journal = store
			a.recorder = journal.NewRecorder(store, log.Named("journal"))
		}
	}
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Agent returns the agent API client.
func (a *App) Agent() *agentapi.Client { return a.agent }

// History returns the conversation loader used for resumption.
func (a *App) History() *history.Loader { return a.history }

// WithInterview returns a view of a building sessions with ic. The view
// shares the journal; only the original is closed.
func (a *App) WithInterview(ic interview.Config) *App {
	c := *a
	c.cfg.Interview = ic
	return &c
}

// Journal returns the turn journal, or nil when it is disabled.
func (a *App) Journal() *journal.Store { return a.journal }

// ClipDir is the directory holding locally synthesized clips, empty when
// speech comes from the agent.
func (a *App) ClipDir() string { return a.clipDir }

// Session builds an unstarted orchestrator on dev and player. Extra sinks
// receive every notification after the journal.
func (a *App) Session(dev capture.Device, player playback.Player, sinks ...interview.Sink) *interview.Orchestrator {
	return a.session(a.synth, dev, player, sinks)
}

// RemoteSession is Session for a browser host: local clip paths are
// rewritten to ClipRoute URLs the browser can fetch.
func (a *App) RemoteSession(dev capture.Device, player playback.Player, sinks ...interview.Sink) *interview.Orchestrator {
	synth := a.synth
	if a.clipDir != "" {
		synth = clipURLs{next: a.synth}
	}
	return a.session(synth, dev, player, sinks)
}

func (a *App) session(synth playback.Synthesizer, dev capture.Device, player playback.Player, sinks []interview.Sink) *interview.Orchestrator {
	cfg := a.cfg.Interview
	var all interview.Sinks
	if a.recorder != nil {
		all = append(all, a.recorder)
	}
	all = append(all, sinks...)

	log := a.log.With("session", uuid.NewString())
	return interview.New(cfg, interview.Deps{
		Agent:    a.agent,
		History:  a.history,
		Speaker:  playback.NewController(synth, player, cfg.EnableAudio && player != nil, log.Named("playback")),
		Device:   dev,
		Uploader: a.uploader,
		Sink:     all,
		Log:      log,
	})
}

// Close flushes the journal.
func (a *App) Close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warnw("close journal", "error", err)
		}
	}
}

// clipURLs maps a local clip file to its ClipRoute URL.
type clipURLs struct {
	next playback.Synthesizer
}

func (c clipURLs) Synthesize(ctx context.Context, text string) (playback.Audio, error) {
	audio, err := c.next.Synthesize(ctx, text)
	if err != nil {
		return audio, err
	}
	if !strings.Contains(audio.URL, "://") {
		audio.URL = ClipRoute + filepath.Base(audio.URL)
	}
	return audio, nil
}
