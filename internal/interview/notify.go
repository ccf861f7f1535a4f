package interview

import "github.com/chadiek/interview-agent/internal/conversation"

// Kind names a notification.
type Kind string

const (
	KindConversationStarted   Kind = "conversation_started"
	KindStreamComplete        Kind = "stream_complete"
	KindInterviewComplete     Kind = "interview_complete"
	KindTurnCompleted         Kind = "turn_completed"
	KindAudioReady            Kind = "audio_ready"
	KindCountdown             Kind = "countdown"
	KindRecordingStatusChange Kind = "recording_status_change"
	KindRecordingTick         Kind = "recording_tick"
	KindRecordingWarning      Kind = "recording_warning"
	KindRecordingError        Kind = "recording_error"
	KindDeviceError           Kind = "device_error"
	KindError                 Kind = "error"
)

// ErrorKind classifies an externally visible failure.
type ErrorKind string

const (
	ErrorTransport     ErrorKind = "transport"
	ErrorDevice        ErrorKind = "device"
	ErrorCapture       ErrorKind = "capture"
	ErrorUpload        ErrorKind = "upload"
	ErrorTranscription ErrorKind = "transcription"
	ErrorHistory       ErrorKind = "history"
	ErrorAnalysis      ErrorKind = "analysis"
	ErrorFeedback      ErrorKind = "feedback"
)

// ErrorInfo is the stable failure shape handed to hosts.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Notification is one event for the host surface.
type Notification struct {
	Kind           Kind   `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	QuestionIndex  int    `json:"question_index"`
	Text           string `json:"text,omitempty"`
	// Remaining is the seconds left of a countdown or a recording.
	Remaining int `json:"remaining,omitempty"`
	// State is the capture state of a recording_status_change.
	State  string             `json:"state,omitempty"`
	Reason string             `json:"reason,omitempty"`
	Error  *ErrorInfo         `json:"error,omitempty"`
	Turn   *conversation.Turn `json:"turn,omitempty"`
}

// Sink receives notifications on the orchestrator goroutine. Notify must not
// block and must not call back into the Orchestrator synchronously.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

type nopSink struct{}

func (nopSink) Notify(Notification) {}

// ChannelSink forwards notifications to a buffered channel, dropping them
// when the reader falls behind.
type ChannelSink chan Notification

func (c ChannelSink) Notify(n Notification) {
	select {
	case c <- n:
	default:
	}
}

// Sinks fans a notification out to every sink in order.
type Sinks []Sink

func (s Sinks) Notify(n Notification) {
	for _, sink := range s {
		if sink != nil {
			sink.Notify(n)
		}
	}
}
