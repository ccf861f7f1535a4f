// Package capture owns the camera/microphone lifecycle of one spoken answer:
// device acquisition, a bounded recording, blob assembly and upload.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/logging"
)

// Config bounds one recording.
type Config struct {
	Mode Mode
	// MaxDuration is the hard recording limit in seconds.
	MaxDuration int
	// WarningThreshold is the remaining seconds at which the closing-soon warning fires.
	WarningThreshold int
}

// DefaultConfig returns a three minute audio+video capture warning at thirty seconds.
func DefaultConfig() Config {
	return Config{Mode: ModeAudioVideo, MaxDuration: 180, WarningThreshold: 30}
}

// Events lets the host react to the capture lifecycle. Callbacks run outside
// the controller lock and may call back into the controller.
type Events struct {
	OnStateChange func(from, to State)
	// OnTick fires every second while recording with the seconds left.
	OnTick func(remaining int)
	// OnWarning fires once per recording when the threshold is crossed.
	OnWarning func(remaining int)
	// OnAutoStop fires when the deadline stopped the recording.
	OnAutoStop func(blob Blob, err *Error)
}

// Controller drives a Device through one capture at a time.
type Controller struct {
	device Device
	clock  clock.Clock
	cfg    Config
	ev     Events
	log    *zap.SugaredLogger

	mu        sync.Mutex
	state     State
	gen       int
	stream    Stream
	recorder  Recorder
	remaining int
	warned    bool
	blob      *Blob
	stopTick  chan struct{}
	lastErr   *Error
}

// NewController returns an idle controller. A nil clock uses the wall clock.
func NewController(device Device, cfg Config, ev Events, clk clock.Clock, log *zap.SugaredLogger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAudioVideo
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultConfig().MaxDuration
	}
	return &Controller{device: device, clock: clk, cfg: cfg, ev: ev, log: logging.OrNop(log)}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the seconds left in the active recording.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Warned reports whether the closing-soon flag is raised for this recording.
func (c *Controller) Warned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warned
}

// LastError returns the failure that moved the controller into StateError.
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Mode returns the configured capture mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// Arm accepts a deferred start request: idle, done or error -> waiting.
func (c *Controller) Arm() error {
	c.mu.Lock()
	var notify []func()
	switch c.state {
	case StateIdle, StateDone, StateError:
		c.blob = nil
		c.lastErr = nil
		notify = c.setState(StateWaiting, notify)
	case StateWaiting:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()
	run(notify)
	return nil
}

// Start acquires the device and begins recording: waiting -> recording.
// Device and recorder failures move the controller to StateError and are
// returned as *Error; nothing is retried.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateWaiting {
		c.mu.Unlock()
		return ErrNotArmed
	}
	if c.stream != nil {
		c.mu.Unlock()
		return ErrDeviceInUse
	}
	c.gen++
	gen := c.gen
	mode := c.cfg.Mode
	c.mu.Unlock()

	stream, err := c.device.Open(ctx, mode)

	c.mu.Lock()
	if gen != c.gen || c.state != StateWaiting {
		c.mu.Unlock()
		if stream != nil {
			stream.Release()
		}
		return ErrClosed
	}
	if err != nil {
		cerr := Wrap(err)
		notify := c.failLocked(cerr, nil)
		c.mu.Unlock()
		run(notify)
		return cerr
	}

	rec, err := negotiate(stream, mode)
	if err == nil {
		if serr := rec.Start(); serr != nil {
			err = Wrap(serr)
		}
	}
	if err != nil {
		stream.Release()
		cerr := Wrap(err)
		notify := c.failLocked(cerr, nil)
		c.mu.Unlock()
		run(notify)
		return cerr
	}

	c.stream = stream
	c.recorder = rec
	c.remaining = c.cfg.MaxDuration
	c.warned = false
	stop := make(chan struct{})
	c.stopTick = stop
	ticker := c.clock.Ticker(time.Second)
	go c.runTicker(gen, ticker, stop)

	notify := c.setState(StateRecording, nil)
	notify = c.checkWarningLocked(notify)
	c.log.Infow("capture recording", "mode", mode, "mime", rec.MIMEType(), "max_seconds", c.cfg.MaxDuration)
	c.mu.Unlock()
	run(notify)
	return nil
}

// negotiate tries the preferred codec, a generic container and finally the
// platform default.
func negotiate(stream Stream, mode Mode) (Recorder, error) {
	var lastErr error
	for _, opts := range recorderCandidates(mode) {
		rec, err := stream.NewRecorder(opts)
		if err == nil && rec != nil {
			return rec, nil
		}
		lastErr = err
	}
	return nil, newError(ReasonRecorderUnavailable, fmt.Errorf("%w: %v", ErrRecorderUnsupported, lastErr))
}

func (c *Controller) runTicker(gen int, ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(gen)
		}
	}
}

// tick advances the recording deadline of generation gen by one second.
func (c *Controller) tick(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.remaining--
	var notify []func()
	if c.ev.OnTick != nil {
		remaining := c.remaining
		notify = append(notify, func() { c.ev.OnTick(remaining) })
	}
	notify = c.checkWarningLocked(notify)
	if c.remaining <= 0 {
		blob, cerr, more := c.stopLocked()
		notify = append(notify, more...)
		if c.ev.OnAutoStop != nil {
			notify = append(notify, func() { c.ev.OnAutoStop(blob, cerr) })
		}
	}
	c.mu.Unlock()
	run(notify)
}

func (c *Controller) checkWarningLocked(notify []func()) []func() {
	if c.warned || c.remaining > c.cfg.WarningThreshold {
		return notify
	}
	c.warned = true
	if c.ev.OnWarning != nil {
		remaining := c.remaining
		notify = append(notify, func() { c.ev.OnWarning(remaining) })
	}
	return notify
}

// Stop ends the recording on caller request: recording -> stopped.
// A failed or empty recording returns *Error and leaves StateError.
func (c *Controller) Stop() (Blob, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return Blob{}, ErrNotRecording
	}
	blob, cerr, notify := c.stopLocked()
	c.mu.Unlock()
	run(notify)
	if cerr != nil {
		return Blob{}, cerr
	}
	return blob, nil
}

// stopLocked stops the recorder and releases the tracks whatever the
// recorder returned.
func (c *Controller) stopLocked() (Blob, *Error, []func()) {
	c.gen++
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	rec, stream := c.recorder, c.stream
	c.recorder, c.stream = nil, nil
	c.remaining = 0

	var data []byte
	var err error
	func() {
		defer stream.Release()
		data, err = rec.Stop()
	}()

	if err != nil {
		cerr := Wrap(err)
		return Blob{}, cerr, c.failLocked(cerr, nil)
	}
	if len(data) == 0 {
		cerr := newError(ReasonEmptyRecording, nil)
		return Blob{}, cerr, c.failLocked(cerr, nil)
	}
	blob := Blob{Data: data, MIMEType: rec.MIMEType(), Mode: c.cfg.Mode}
	c.blob = &blob
	return blob, nil, c.setState(StateStopped, nil)
}

// Upload hands the stopped recording to up: stopped -> uploading -> done.
// The blob is dropped once uploaded.
func (c *Controller) Upload(ctx context.Context, up Uploader, meta UploadMeta) (UploadedFile, error) {
	c.mu.Lock()
	if c.state != StateStopped || c.blob == nil {
		c.mu.Unlock()
		return UploadedFile{}, ErrNoBlob
	}
	blob := *c.blob
	gen := c.gen
	notify := c.setState(StateUploading, nil)
	c.mu.Unlock()
	run(notify)

	file, err := up.Upload(ctx, blob, meta)

	c.mu.Lock()
	if gen != c.gen || c.state != StateUploading {
		c.mu.Unlock()
		return UploadedFile{}, ErrClosed
	}
	if err != nil {
		notify = c.setState(StateError, nil)
		c.lastErr = &Error{Reason: ReasonOther, Message: "upload failed", Err: err}
		c.mu.Unlock()
		run(notify)
		return UploadedFile{}, fmt.Errorf("upload capture: %w", err)
	}
	c.blob = nil
	notify = c.setState(StateDone, nil)
	c.mu.Unlock()
	run(notify)
	c.log.Infow("capture uploaded", "cos_key", file.CosKey, "bytes", blob.Size())
	return file, nil
}

// Close tears the capture down from any state. It is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	rec, stream := c.recorder, c.stream
	c.recorder, c.stream = nil, nil
	c.blob = nil
	c.remaining = 0
	var notify []func()
	if c.state != StateIdle {
		notify = c.setState(StateIdle, nil)
	}
	c.mu.Unlock()

	if rec != nil {
		if _, err := rec.Stop(); err != nil {
			c.log.Debugw("recorder stop on close", "error", err)
		}
	}
	if stream != nil {
		stream.Release()
	}
	run(notify)
}

func (c *Controller) failLocked(cerr *Error, notify []func()) []func() {
	c.lastErr = cerr
	c.log.Warnw("capture failed", "reason", cerr.Reason, "error", cerr)
	return c.setState(StateError, notify)
}

func (c *Controller) setState(to State, notify []func()) []func() {
	from := c.state
	c.state = to
	if from == to || c.ev.OnStateChange == nil {
		return notify
	}
	return append(notify, func() { c.ev.OnStateChange(from, to) })
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
