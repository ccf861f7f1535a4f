package interview

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/playback"
	"github.com/chadiek/interview-agent/internal/protocol"
)

var (
	ErrTurnInFlight     = errors.New("interview: a turn is already streaming")
	ErrTaskCompleted    = errors.New("interview: the interview is complete")
	ErrBusy             = errors.New("interview: not accepting requests in the current phase")
	ErrClosed           = errors.New("interview: session closed")
	ErrNotStarted       = errors.New("interview: session not started")
	ErrEmptyQuery       = errors.New("interview: empty query")
	ErrNoAudio          = errors.New("interview: no audio waiting for playback")
	ErrNotCapturing     = errors.New("interview: no recording in progress")
	ErrNoConversationID = errors.New("interview: conversation id required")
)

// Snapshot is a copy of the machine state.
type Snapshot struct {
	Phase          Phase               `json:"phase"`
	ConversationID string              `json:"conversation_id,omitempty"`
	QuestionIndex  int                 `json:"question_index"`
	TaskCompleted  bool                `json:"task_completed"`
	History        []conversation.Turn `json:"history"`
	Current        *conversation.Turn  `json:"current,omitempty"`
	Countdown      int                 `json:"countdown,omitempty"`
	Recording      bool                `json:"recording"`
	AudioPending   bool                `json:"audio_pending"`
}

// Machine is the turn state machine. Apply is its only transition function;
// it performs no I/O and returns the effects the runtime must execute.
type Machine struct {
	cfg   Config
	conv  conversation.Conversation
	phase Phase
	// seq identifies the single outstanding effect; stale results are dropped.
	seq int

	countdown     int
	recording     bool
	clip          *playback.Clip
	streamFailure string
}

// NewMachine returns an idle machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg.withDefaults()}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// Snapshot copies the current state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Phase:          m.phase,
		ConversationID: m.conv.ID(),
		QuestionIndex:  m.conv.QuestionIndex(),
		TaskCompleted:  m.conv.TaskCompleted(),
		History:        m.conv.History(),
		Recording:      m.recording,
		AudioPending:   m.clip != nil && m.phase == PhaseAwaitingPlayback,
	}
	if m.phase == PhaseWaitingToCapture {
		s.Countdown = m.countdown
	}
	if cur, ok := m.conv.Current(); ok {
		s.Current = &cur
	}
	return s
}

type effects []Effect

func (fx *effects) add(e ...Effect) { *fx = append(*fx, e...) }

func (m *Machine) notify(fx *effects, n Notification) {
	if n.ConversationID == "" {
		n.ConversationID = m.conv.ID()
	}
	n.QuestionIndex = m.conv.QuestionIndex()
	fx.add(Notify{Notification: n})
}

func (m *Machine) fail(fx *effects, kind ErrorKind, message, detail string) {
	m.notify(fx, Notification{Kind: KindError, Error: &ErrorInfo{Kind: kind, Message: message, Detail: detail}})
}

// Apply feeds one event to the machine. Caller requests that are not valid
// in the current phase return an error and leave the state unchanged.
func (m *Machine) Apply(ev Event) ([]Effect, error) {
	if m.phase == PhaseClosed {
		switch ev.(type) {
		case SubmitQuery, PlaybackRequested, StopRequested, RetryRequested, ResumeRequested:
			return nil, ErrClosed
		}
		return nil, nil
	}

	var fx effects
	var err error
	switch e := ev.(type) {
	case SubmitQuery:
		err = m.submit(&fx, e)
	case StreamEvent:
		m.streamEvent(&fx, e)
	case StreamClosed:
		m.streamClosed(&fx, e)
	case SynthesisDone:
		m.synthesisDone(&fx, e)
	case PlaybackRequested:
		err = m.playbackRequested(&fx)
	case PlaybackEnded:
		if e.Seq == m.seq && m.phase == PhasePlaying {
			m.clip = nil
			m.beginWait(&fx)
		}
	case CountdownTick:
		m.countdownTick(&fx, e)
	case CaptureStarted:
		if e.Seq == m.seq && m.phase == PhaseCapturing {
			m.recording = true
			m.notify(&fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateRecording.String()})
		}
	case CaptureFailed:
		m.captureFailed(&fx, e)
	case CaptureProgress:
		m.captureProgress(&fx, e)
	case StopRequested:
		err = m.stopRequested(&fx)
	case CaptureStopped:
		m.captureStopped(&fx, e)
	case UploadDone:
		m.uploadDone(&fx, e)
	case TranscriptionDone:
		m.transcriptionDone(&fx, e)
	case RetryRequested:
		err = m.retry(&fx)
	case ResumeRequested:
		err = m.resume(&fx, e)
	case HistoryLoaded:
		m.historyLoaded(&fx, e)
	case FeedbackFailed:
		m.fail(&fx, ErrorFeedback, "feedback could not be saved", errText(e.Err))
	case CloseRequested:
		m.phase = PhaseClosed
		m.recording = false
		m.clip = nil
		m.seq++
		fx.add(Shutdown{})
	default:
		return nil, fmt.Errorf("interview: unknown event %T", ev)
	}
	if err != nil {
		return nil, err
	}
	return fx, nil
}

func (m *Machine) submit(fx *effects, e SubmitQuery) error {
	query := strings.TrimSpace(e.Query)
	if query == "" {
		return ErrEmptyQuery
	}
	if m.conv.TaskCompleted() {
		return ErrTaskCompleted
	}
	if m.conv.InFlight() {
		return ErrTurnInFlight
	}
	switch m.phase {
	case PhaseIdle, PhaseError, PhaseAwaitingPlayback, PhaseWaitingToCapture:
	default:
		return ErrBusy
	}
	m.leave(fx)
	m.beginTurn(fx, query, false, e.TurnID, e.Now)
	return nil
}

// leave drops the pending work of a phase that is abandoned by a request.
func (m *Machine) leave(fx *effects) {
	switch m.phase {
	case PhaseWaitingToCapture:
		fx.add(StopCountdown{})
	case PhaseAwaitingPlayback:
		fx.add(ReleaseAudio{})
	}
	m.clip = nil
	m.countdown = 0
}

func (m *Machine) beginTurn(fx *effects, query string, continuation bool, turnID string, now time.Time) {
	if turnID == "" {
		turnID = fmt.Sprintf("local-%d", m.seq+1)
	}
	if continuation && m.cfg.TotalTurns > 0 && m.conv.QuestionIndex() >= m.cfg.TotalTurns {
		// The last answer is recorded without asking the agent for more.
		best := m.lastAnswerText()
		turn := conversation.Turn{ID: turnID, ConversationID: m.conv.ID(), Query: query, CreatedAt: now}
		m.conv.Record(turn)
		m.conv.Complete()
		m.phase = PhaseCompleted
		h := m.conv.History()
		recorded := h[len(h)-1]
		m.notify(fx, Notification{Kind: KindTurnCompleted, MessageID: recorded.ID, Turn: &recorded})
		m.notify(fx, Notification{Kind: KindInterviewComplete, Text: best})
		return
	}
	m.conv.Begin(turnID, query, now)
	m.seq++
	m.streamFailure = ""
	m.phase = PhaseStreaming
	fx.add(OpenStream{Seq: m.seq, Query: query, ConversationID: m.conv.ID()})
}

func (m *Machine) lastAnswerText() string {
	h := m.conv.History()
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Status == conversation.StatusNormal && strings.TrimSpace(h[i].PreferredText()) != "" {
			return h[i].PreferredText()
		}
	}
	return ""
}

func (m *Machine) streamEvent(fx *effects, e StreamEvent) {
	if e.Seq != m.seq || m.phase != PhaseStreaming || !m.conv.InFlight() {
		return
	}
	ev := e.Event

	if ev.ConversationID != "" && m.conv.ID() == "" && m.conv.SetID(ev.ConversationID) {
		m.notify(fx, Notification{Kind: KindConversationStarted})
	}
	m.conv.AssignID(ev.MessageID)

	kind := m.cfg.Markers.Classify(ev)
	switch kind {
	case protocol.KindMessage:
		m.conv.Update(func(t *conversation.Turn) { t.Answer += ev.Answer })
	case protocol.KindAuxiliaryText:
		if text := protocol.AuxiliaryText(ev); text != "" {
			m.conv.Update(func(t *conversation.Turn) { t.AuxiliaryText = text })
		}
	case protocol.KindAnalysisFailed:
		m.fail(fx, ErrorAnalysis, ev.Data.Title, ev.Data.Error)
	case protocol.KindMessageEnd:
		m.conv.Update(func(t *conversation.Turn) { t.Resources = protocol.Resources(ev.Metadata.RetrieverResources) })
		cur, _ := m.conv.Current()
		m.notify(fx, Notification{Kind: KindStreamComplete, MessageID: cur.ID})
	case protocol.KindServerError:
		if m.streamFailure == "" {
			m.streamFailure = firstNonEmpty(ev.Message, ev.Code, "agent reported an error")
		}
	}

	if kind == protocol.KindTaskEnded && m.conv.Complete() {
		cur, _ := m.conv.Current()
		m.notify(fx, Notification{Kind: KindInterviewComplete, MessageID: cur.ID, Text: cur.PreferredText()})
	}
}

func (m *Machine) streamClosed(fx *effects, e StreamClosed) {
	if e.Seq != m.seq || m.phase != PhaseStreaming {
		return
	}
	failure := m.streamFailure
	if e.Err != nil {
		failure = e.Err.Error()
	}
	m.streamFailure = ""

	if failure != "" {
		turn, _ := m.conv.Fail(m.cfg.ApologyAnswer)
		m.fail(fx, ErrorTransport, "the answer stream failed", failure)
		m.notify(fx, Notification{Kind: KindTurnCompleted, MessageID: turn.ID, Turn: &turn})
		m.phase = PhaseIdle
		if m.conv.TaskCompleted() {
			m.phase = PhaseCompleted
		}
		return
	}

	turn, _ := m.conv.Finish()
	m.notify(fx, Notification{Kind: KindTurnCompleted, MessageID: turn.ID, Turn: &turn})
	if m.conv.TaskCompleted() {
		m.phase = PhaseCompleted
		return
	}
	m.phase = PhaseIdle
	m.afterAnswer(fx, turn.PreferredText())
}

func (m *Machine) afterAnswer(fx *effects, text string) {
	if m.cfg.EnableAudio && strings.TrimSpace(text) != "" {
		m.seq++
		m.phase = PhaseSynthesizing
		fx.add(Synthesize{Seq: m.seq, Text: text})
		return
	}
	m.beginWait(fx)
}

func (m *Machine) synthesisDone(fx *effects, e SynthesisDone) {
	if e.Seq != m.seq || m.phase != PhaseSynthesizing {
		return
	}
	if e.Err != nil || e.Clip == nil {
		m.beginWait(fx)
		return
	}
	if m.cfg.AutoPlay {
		m.phase = PhasePlaying
		m.clip = e.Clip
		fx.add(Play{Seq: m.seq, Clip: e.Clip})
		return
	}
	m.phase = PhaseAwaitingPlayback
	m.clip = e.Clip
	m.notify(fx, Notification{Kind: KindAudioReady, Text: e.Clip.Text})
}

func (m *Machine) playbackRequested(fx *effects) error {
	if m.phase != PhaseAwaitingPlayback || m.clip == nil {
		return ErrNoAudio
	}
	m.seq++
	m.phase = PhasePlaying
	fx.add(Play{Seq: m.seq, Clip: m.clip})
	return nil
}

// beginWait starts the countdown before a capture, or returns to idle when
// answers are typed.
func (m *Machine) beginWait(fx *effects) {
	if m.conv.TaskCompleted() {
		m.phase = PhaseCompleted
		return
	}
	if m.cfg.Mode == ModeText {
		m.phase = PhaseIdle
		return
	}
	m.seq++
	m.countdown = m.cfg.WaitBeforeCaptureSeconds
	if m.countdown <= 0 {
		m.startCapture(fx)
		return
	}
	m.phase = PhaseWaitingToCapture
	fx.add(StartCountdown{Seq: m.seq, Seconds: m.countdown})
	m.notify(fx, Notification{Kind: KindCountdown, Remaining: m.countdown})
}

func (m *Machine) countdownTick(fx *effects, e CountdownTick) {
	if e.Seq != m.seq || m.phase != PhaseWaitingToCapture {
		return
	}
	m.countdown--
	if m.countdown > 0 {
		m.notify(fx, Notification{Kind: KindCountdown, Remaining: m.countdown})
		return
	}
	m.countdown = 0
	fx.add(StopCountdown{})
	m.startCapture(fx)
}

func (m *Machine) startCapture(fx *effects) {
	m.seq++
	m.recording = false
	m.phase = PhaseCapturing
	fx.add(StartCapture{Seq: m.seq, Config: m.cfg.CaptureConfig()})
	m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateWaiting.String()})
}

func (m *Machine) captureFailed(fx *effects, e CaptureFailed) {
	if e.Seq != m.seq || m.phase != PhaseCapturing {
		return
	}
	m.phase = PhaseError
	m.recording = false
	reason := capture.Classify(e.Err)
	m.notify(fx, Notification{
		Kind:   KindDeviceError,
		Reason: string(reason),
		Error:  &ErrorInfo{Kind: ErrorDevice, Message: reasonMessage(e.Err), Detail: errText(e.Err)},
	})
	m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateError.String(), Reason: string(reason)})
}

func (m *Machine) captureProgress(fx *effects, e CaptureProgress) {
	if e.Seq != m.seq || m.phase != PhaseCapturing || !m.recording {
		return
	}
	kind := KindRecordingTick
	if e.Warning {
		kind = KindRecordingWarning
	}
	m.notify(fx, Notification{Kind: kind, Remaining: e.Remaining})
}

func (m *Machine) stopRequested(fx *effects) error {
	if m.phase != PhaseCapturing || !m.recording {
		return ErrNotCapturing
	}
	m.recording = false
	fx.add(StopCapture{Seq: m.seq})
	return nil
}

func (m *Machine) captureStopped(fx *effects, e CaptureStopped) {
	if e.Seq != m.seq || m.phase != PhaseCapturing {
		return
	}
	m.recording = false
	if e.Err != nil {
		m.phase = PhaseError
		reason := capture.Classify(e.Err)
		m.notify(fx, Notification{
			Kind:   KindRecordingError,
			Reason: string(reason),
			Error:  &ErrorInfo{Kind: ErrorCapture, Message: reasonMessage(e.Err), Detail: errText(e.Err)},
		})
		m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateError.String(), Reason: string(reason)})
		return
	}
	m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateStopped.String()})
	m.seq++
	m.phase = PhaseTranscribing
	fx.add(Upload{Seq: m.seq, Meta: capture.UploadMeta{
		ConversationID: m.conv.ID(),
		QuestionIndex:  m.conv.QuestionIndex(),
		Tags:           append([]string(nil), m.cfg.UploadTags...),
	}})
}

func (m *Machine) uploadDone(fx *effects, e UploadDone) {
	if e.Seq != m.seq || m.phase != PhaseTranscribing {
		return
	}
	if e.Err != nil {
		m.phase = PhaseError
		m.fail(fx, ErrorUpload, "the recording could not be uploaded", errText(e.Err))
		m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateError.String()})
		return
	}
	m.notify(fx, Notification{Kind: KindRecordingStatusChange, State: capture.StateDone.String()})
	fx.add(Transcribe{Seq: m.seq, File: e.File})
}

func (m *Machine) transcriptionDone(fx *effects, e TranscriptionDone) {
	if e.Seq != m.seq || m.phase != PhaseTranscribing {
		return
	}
	if e.Err != nil {
		m.phase = PhaseError
		m.fail(fx, ErrorTranscription, "the recording could not be transcribed", errText(e.Err))
		return
	}
	query := strings.TrimSpace(e.Text)
	if query == "" {
		query = m.cfg.FallbackQuery
	}
	m.phase = PhaseIdle
	m.beginTurn(fx, query, true, e.TurnID, e.Now)
}

func (m *Machine) retry(fx *effects) error {
	if m.conv.TaskCompleted() {
		return ErrTaskCompleted
	}
	if m.cfg.Mode == ModeText {
		return ErrNotCapturing
	}
	if m.conv.InFlight() || (m.phase != PhaseError && m.phase != PhaseIdle) {
		return ErrBusy
	}
	m.beginWait(fx)
	return nil
}

func (m *Machine) resume(fx *effects, e ResumeRequested) error {
	id := strings.TrimSpace(e.ConversationID)
	if id == "" {
		return ErrNoConversationID
	}
	switch m.phase {
	case PhaseIdle, PhaseError, PhaseAwaitingPlayback, PhaseWaitingToCapture, PhaseCompleted:
	default:
		return ErrBusy
	}
	m.leave(fx)
	fx.add(CancelWork{})
	m.seq++
	m.phase = PhaseResuming
	fx.add(LoadHistory{Seq: m.seq, ConversationID: id})
	return nil
}

func (m *Machine) historyLoaded(fx *effects, e HistoryLoaded) {
	if e.Seq != m.seq || m.phase != PhaseResuming {
		return
	}
	if e.Err != nil {
		m.phase = PhaseIdle
		if m.conv.TaskCompleted() {
			m.phase = PhaseCompleted
		}
		m.fail(fx, ErrorHistory, "the conversation could not be loaded", errText(e.Err))
		return
	}
	res := e.Result
	m.conv.Reset(res.ConversationID, res.Turns, res.Answered)
	m.phase = PhaseIdle

	last, ok := res.Last()
	if res.Ended {
		m.conv.Complete()
		m.phase = PhaseCompleted
		m.notify(fx, Notification{Kind: KindInterviewComplete, MessageID: last.ID, Text: m.lastAnswerText()})
		return
	}
	if ok && last.Status == conversation.StatusNormal && strings.TrimSpace(last.PreferredText()) != "" {
		m.afterAnswer(fx, last.PreferredText())
	}
}

func reasonMessage(err error) string {
	if err == nil {
		return ""
	}
	return capture.Wrap(err).Message
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
