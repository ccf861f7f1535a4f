// Package playback synthesizes answer text and plays it, one clip at a time.
package playback

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/logging"
)

// ErrClosed is returned by Prepare once the controller was torn down.
var ErrClosed = errors.New("playback: controller closed")

// Audio is synthesized speech. Release frees whatever backs URL and may be nil.
type Audio struct {
	URL     string
	Release func()
}

// Synthesizer converts text to playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Player plays a URL and returns when playback ends or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, url string) error
}

// Clip is one synthesized utterance owned by the Controller that prepared it.
type Clip struct {
	Text  string
	audio Audio
	once  sync.Once
}

// URL returns the playable location of the clip.
func (c *Clip) URL() string { return c.audio.URL }

func (c *Clip) release() {
	c.once.Do(func() {
		if c.audio.Release != nil {
			c.audio.Release()
		}
	})
}

// Controller sequences synthesis and playback. A new clip supersedes the
// previous one, which is stopped and released first.
type Controller struct {
	synth   Synthesizer
	player  Player
	enabled bool
	log     *zap.SugaredLogger

	mu      sync.Mutex
	current *Clip
	cancel  context.CancelFunc
	playing bool
	closed  bool
}

// NewController returns a controller. With enabled false every call resolves
// immediately without synthesizing.
func NewController(synth Synthesizer, player Player, enabled bool, log *zap.SugaredLogger) *Controller {
	return &Controller{
		synth:   synth,
		player:  player,
		enabled: enabled && synth != nil,
		log:     logging.OrNop(log),
	}
}

// Enabled reports whether synthesis is attempted.
func (c *Controller) Enabled() bool { return c.enabled }

// IsPlaying is true between playback start and its end.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Prepare synthesizes text without playing it. It returns a nil clip when
// synthesis is disabled or text is blank.
func (c *Controller) Prepare(ctx context.Context, text string) (*Clip, error) {
	if !c.enabled || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.stopLocked()
	c.mu.Unlock()

	audio, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	clip := &Clip{Text: text, audio: audio}
	if audio.URL == "" {
		clip.release()
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		clip.release()
		return nil, ErrClosed
	}
	c.stopLocked()
	c.current = clip
	return clip, nil
}

// Play plays clip and returns when it ends. Playback errors are logged and
// treated as the end of the clip. The clip is released afterwards.
func (c *Controller) Play(ctx context.Context, clip *Clip) {
	if clip == nil {
		return
	}
	c.mu.Lock()
	if c.player == nil {
		if c.current == clip {
			c.current = nil
		}
		c.mu.Unlock()
		clip.release()
		return
	}
	if c.closed {
		c.mu.Unlock()
		clip.release()
		return
	}
	if c.current != clip {
		c.stopLocked()
		c.current = clip
	} else if c.cancel != nil {
		c.cancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.playing = true
	c.mu.Unlock()

	if err := c.player.Play(playCtx, clip.URL()); err != nil && playCtx.Err() == nil {
		c.log.Warnw("playback failed", "url", clip.URL(), "error", err)
	}
	cancel()

	c.mu.Lock()
	if c.current == clip {
		c.current = nil
		c.cancel = nil
		c.playing = false
	}
	c.mu.Unlock()
	clip.release()
}

// PlaySynthesized synthesizes text and plays it to the end. Synthesis
// failures are logged; the call always resolves.
func (c *Controller) PlaySynthesized(ctx context.Context, text string) {
	clip, err := c.Prepare(ctx, text)
	if err != nil {
		c.log.Warnw("speech synthesis failed", "error", err)
		return
	}
	c.Play(ctx, clip)
}

// Stop ends any playback and releases the pending clip.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

// Close stops playback and refuses further clips. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.current != nil {
		c.current.release()
		c.current = nil
	}
	c.playing = false
}
