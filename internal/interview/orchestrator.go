package interview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/agentapi"
	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/history"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/playback"
	"github.com/chadiek/interview-agent/internal/sse"
)

// Agent is the conversational backend.
type Agent interface {
	Chat(ctx context.Context, req agentapi.ChatRequest) (<-chan sse.Event, <-chan error)
	Transcribe(ctx context.Context, file capture.UploadedFile) (string, error)
	SubmitFeedback(ctx context.Context, messageID, rating, content string) error
}

// ConfigChecker is implemented by agents that can tell up front that no
// request will succeed. *agentapi.Client implements it.
type ConfigChecker interface {
	Check() error
}

var _ ConfigChecker = (*agentapi.Client)(nil)

// HistoryLoader reloads a conversation for resumption.
type HistoryLoader interface {
	Load(ctx context.Context, conversationID string) (history.Result, error)
}

// Speaker prepares and plays answer speech. *playback.Controller implements it.
type Speaker interface {
	Prepare(ctx context.Context, text string) (*playback.Clip, error)
	Play(ctx context.Context, clip *playback.Clip)
	Stop()
	Close()
}

// Deps are the collaborators of an Orchestrator. Speaker, Device and
// Uploader may be nil for a text-only interview.
type Deps struct {
	Agent    Agent
	History  HistoryLoader
	Speaker  Speaker
	Device   capture.Device
	Uploader capture.Uploader
	Sink     Sink
	Clock    clock.Clock
	Log      *zap.SugaredLogger
	// NewID generates temporary turn ids; uuid.NewString by default.
	NewID func() string
}

type envelope struct {
	ev    Event
	reply chan error
}

// Orchestrator runs one interview session. A single goroutine owns the
// Machine; effects run on their own goroutines and report back as events.
type Orchestrator struct {
	deps  Deps
	log   *zap.SugaredLogger
	clock clock.Clock
	sink  Sink

	inbox chan envelope
	done  chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	snap    Snapshot

	// Owned by the loop goroutine.
	machine   *Machine
	base      context.Context
	opCtx     context.Context
	opCancel  context.CancelFunc
	countdown chan struct{}
	capture   *capture.Controller
}

// New returns an orchestrator; Start launches it.
func New(cfg Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	sink := deps.Sink
	if sink == nil {
		sink = nopSink{}
	}
	m := NewMachine(cfg)
	return &Orchestrator{
		deps:    deps,
		log:     logging.OrNop(deps.Log),
		clock:   deps.Clock,
		sink:    sink,
		inbox:   make(chan envelope),
		done:    make(chan struct{}),
		machine: m,
		snap:    m.Snapshot(),
	}
}

// Start launches the session loop. Cancelling ctx closes the session.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if o.started {
		return nil
	}
	o.started = true
	o.base = ctx
	o.opCtx, o.opCancel = context.WithCancel(ctx)
	go o.run(ctx)
	return nil
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			_ = o.apply(CloseRequested{})
			return
		case env := <-o.inbox:
			err := o.apply(env.ev)
			if env.reply != nil {
				env.reply <- err
			}
			if o.machine.Phase() == PhaseClosed {
				return
			}
		}
	}
}

func (o *Orchestrator) apply(ev Event) error {
	from := o.machine.Phase()
	fx, err := o.machine.Apply(ev)
	if err != nil {
		return err
	}
	for _, e := range fx {
		o.execute(e)
	}
	if to := o.machine.Phase(); to != from {
		o.log.Debugw("interview phase", "from", from, "to", to, "event", eventName(ev))
	}
	snap := o.machine.Snapshot()
	o.mu.Lock()
	o.snap = snap
	o.mu.Unlock()
	return nil
}

// request delivers a caller event and waits for the machine's verdict.
func (o *Orchestrator) request(ctx context.Context, ev Event) error {
	o.mu.Lock()
	started, closed := o.started, o.closed
	o.mu.Unlock()
	if closed && !started {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}

	reply := make(chan error, 1)
	select {
	case o.inbox <- envelope{ev: ev, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post delivers an effect result. It reports false once the loop exited.
func (o *Orchestrator) post(ev Event) bool {
	select {
	case o.inbox <- envelope{ev: ev}:
		return true
	case <-o.done:
		return false
	}
}

// checkAgent surfaces a misconfigured agent before any turn is created.
func (o *Orchestrator) checkAgent() error {
	if c, ok := o.deps.Agent.(ConfigChecker); ok {
		return c.Check()
	}
	return nil
}

// StartTurn submits a typed query. A misconfigured agent is reported
// without starting a turn.
func (o *Orchestrator) StartTurn(ctx context.Context, query string) error {
	if err := o.checkAgent(); err != nil {
		return err
	}
	return o.request(ctx, SubmitQuery{Query: query, TurnID: o.deps.NewID(), Now: o.clock.Now()})
}

// Greet opens a fresh conversation with the configured greeting.
func (o *Orchestrator) Greet(ctx context.Context) error {
	return o.StartTurn(ctx, o.machine.Config().GreetingQuery)
}

// StopCapture ends the recording in progress.
func (o *Orchestrator) StopCapture() error {
	return o.request(context.Background(), StopRequested{})
}

// PlayAudio plays the synthesized answer held while auto-play is off.
func (o *Orchestrator) PlayAudio() error {
	return o.request(context.Background(), PlaybackRequested{})
}

// RetryCapture starts a new capture after a device or upload failure.
func (o *Orchestrator) RetryCapture() error {
	if err := o.checkAgent(); err != nil {
		return err
	}
	return o.request(context.Background(), RetryRequested{})
}

// Resume switches the session to an existing conversation.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string) error {
	if err := o.checkAgent(); err != nil {
		return err
	}
	return o.request(ctx, ResumeRequested{ConversationID: conversationID})
}

// SubmitFeedback rates an answer. A failure is returned and also reported
// to the sink; the local history is left untouched either way.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, messageID, rating string) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	err := o.deps.Agent.SubmitFeedback(ctx, messageID, rating, "")
	if err != nil {
		o.post(FeedbackFailed{MessageID: messageID, Err: err})
	}
	return err
}

// Snapshot returns the state after the last processed event.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Done is closed once the session loop exited.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Close tears the session down and waits for the loop to exit. It is idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if !o.started {
		o.closed = true
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	_ = o.request(context.Background(), CloseRequested{})
	<-o.done
}

func (o *Orchestrator) execute(e Effect) {
	switch e := e.(type) {
	case Notify:
		o.sink.Notify(e.Notification)
	case OpenStream:
		o.openStream(e)
	case Synthesize:
		o.synthesize(e)
	case Play:
		ctx := o.opCtx
		go func() {
			if o.deps.Speaker != nil {
				o.deps.Speaker.Play(ctx, e.Clip)
			}
			o.post(PlaybackEnded{Seq: e.Seq})
		}()
	case ReleaseAudio:
		if o.deps.Speaker != nil {
			o.deps.Speaker.Stop()
		}
	case StartCountdown:
		o.startCountdown(e.Seq)
	case StopCountdown:
		o.stopCountdown()
	case StartCapture:
		o.startCapture(e)
	case StopCapture:
		o.stopCapture(e)
	case Upload:
		o.upload(e)
	case Transcribe:
		o.transcribe(e)
	case LoadHistory:
		o.loadHistory(e)
	case CancelWork:
		o.cancelWork()
		if o.deps.Speaker != nil {
			o.deps.Speaker.Stop()
		}
	case Shutdown:
		o.cancelWork()
		o.opCancel()
		if o.deps.Speaker != nil {
			o.deps.Speaker.Close()
		}
		o.log.Infow("interview closed", "conversation_id", o.machine.conv.ID())
	}
}

// cancelWork abandons every in-flight effect.
func (o *Orchestrator) cancelWork() {
	o.stopCountdown()
	o.closeCapture()
	o.opCancel()
	o.opCtx, o.opCancel = context.WithCancel(o.base)
}

func (o *Orchestrator) openStream(e OpenStream) {
	ctx := o.opCtx
	req := agentapi.ChatRequest{
		Query:          e.Query,
		ConversationID: e.ConversationID,
		Inputs:         o.machine.Config().Inputs,
	}
	o.log.Debugw("opening answer stream", "conversation_id", e.ConversationID, "seq", e.Seq)
	go func() {
		events, errs := o.deps.Agent.Chat(ctx, req)
		for ev := range events {
			if !o.post(StreamEvent{Seq: e.Seq, Event: ev}) {
				return
			}
		}
		err := <-errs
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.log.Warnw("answer stream failed", "error", err)
		}
		o.post(StreamClosed{Seq: e.Seq, Err: err})
	}()
}

func (o *Orchestrator) synthesize(e Synthesize) {
	ctx := o.opCtx
	go func() {
		var clip *playback.Clip
		var err error
		if o.deps.Speaker != nil {
			clip, err = o.deps.Speaker.Prepare(ctx, e.Text)
		}
		if err != nil {
			o.log.Warnw("speech synthesis failed", "error", err)
		}
		o.post(SynthesisDone{Seq: e.Seq, Clip: clip, Err: err})
	}()
}

func (o *Orchestrator) startCountdown(seq int) {
	o.stopCountdown()
	stop := make(chan struct{})
	o.countdown = stop
	ticker := o.clock.Ticker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				if !o.post(CountdownTick{Seq: seq}) {
					return
				}
			}
		}
	}()
}

func (o *Orchestrator) stopCountdown() {
	if o.countdown != nil {
		close(o.countdown)
		o.countdown = nil
	}
}

func (o *Orchestrator) startCapture(e StartCapture) {
	o.closeCapture()
	seq := e.Seq
	ctrl := capture.NewController(o.deps.Device, e.Config, capture.Events{
		OnStateChange: func(_, to capture.State) {
			if to == capture.StateRecording {
				o.post(CaptureStarted{Seq: seq})
			}
		},
		OnTick: func(remaining int) {
			o.post(CaptureProgress{Seq: seq, Remaining: remaining})
		},
		OnWarning: func(remaining int) {
			o.post(CaptureProgress{Seq: seq, Remaining: remaining, Warning: true})
		},
		OnAutoStop: func(_ capture.Blob, cerr *capture.Error) {
			var err error
			if cerr != nil {
				err = cerr
			}
			o.post(CaptureStopped{Seq: seq, Err: err})
		},
	}, o.clock, o.log)
	o.capture = ctrl

	ctx := o.opCtx
	go func() {
		if o.deps.Device == nil {
			o.post(CaptureFailed{Seq: seq, Err: capture.ErrDeviceNotFound})
			return
		}
		if err := ctrl.Arm(); err != nil {
			o.post(CaptureFailed{Seq: seq, Err: err})
			return
		}
		if err := ctrl.Start(ctx); err != nil {
			if errors.Is(err, capture.ErrClosed) {
				return
			}
			o.post(CaptureFailed{Seq: seq, Err: err})
		}
	}()
}

func (o *Orchestrator) stopCapture(e StopCapture) {
	ctrl := o.capture
	if ctrl == nil {
		return
	}
	go func() {
		_, err := ctrl.Stop()
		if errors.Is(err, capture.ErrNotRecording) {
			// The deadline stopped it first.
			return
		}
		o.post(CaptureStopped{Seq: e.Seq, Err: err})
	}()
}

func (o *Orchestrator) closeCapture() {
	if o.capture != nil {
		o.capture.Close()
		o.capture = nil
	}
}

func (o *Orchestrator) upload(e Upload) {
	ctrl := o.capture
	ctx := o.opCtx
	go func() {
		if ctrl == nil || o.deps.Uploader == nil {
			o.post(UploadDone{Seq: e.Seq, Err: capture.ErrNoBlob})
			return
		}
		file, err := ctrl.Upload(ctx, o.deps.Uploader, e.Meta)
		if errors.Is(err, capture.ErrClosed) || ctx.Err() != nil {
			return
		}
		if err != nil {
			o.log.Warnw("capture upload failed", "error", err)
		}
		o.post(UploadDone{Seq: e.Seq, File: file, Err: err})
	}()
}

func (o *Orchestrator) transcribe(e Transcribe) {
	ctx := o.opCtx
	go func() {
		text, err := o.deps.Agent.Transcribe(ctx, e.File)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.log.Warnw("transcription failed", "cos_key", e.File.CosKey, "error", err)
		}
		o.post(TranscriptionDone{Seq: e.Seq, Text: text, Err: err, TurnID: o.deps.NewID(), Now: o.clock.Now()})
	}()
}

func (o *Orchestrator) loadHistory(e LoadHistory) {
	ctx := o.opCtx
	go func() {
		var res history.Result
		err := errors.New("interview: no history loader configured")
		if o.deps.History != nil {
			res, err = o.deps.History.Load(ctx, e.ConversationID)
		}
		if ctx.Err() != nil {
			return
		}
		o.post(HistoryLoaded{Seq: e.Seq, Result: res, Err: err})
	}()
}

func eventName(ev Event) string {
	switch ev.(type) {
	case SubmitQuery:
		return "submit_query"
	case StreamClosed:
		return "stream_closed"
	case SynthesisDone:
		return "synthesis_done"
	case PlaybackEnded:
		return "playback_ended"
	case CountdownTick:
		return "countdown_tick"
	case CaptureStarted:
		return "capture_started"
	case CaptureFailed:
		return "capture_failed"
	case CaptureStopped:
		return "capture_stopped"
	case UploadDone:
		return "upload_done"
	case TranscriptionDone:
		return "transcription_done"
	case ResumeRequested:
		return "resume"
	case HistoryLoaded:
		return "history_loaded"
	case CloseRequested:
		return "close"
	}
	return "other"
}
