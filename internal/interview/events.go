package interview

import (
	"time"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/history"
	"github.com/chadiek/interview-agent/internal/playback"
	"github.com/chadiek/interview-agent/internal/sse"
)

// Event is an input of the Machine: a caller request or the result of an
// effect. Results carry the sequence number of the effect that produced them
// and are ignored once the machine moved on.
type Event interface{ isEvent() }

// Caller requests.
type (
	SubmitQuery struct {
		Query  string
		TurnID string
		Now    time.Time
	}
	PlaybackRequested struct{}
	StopRequested     struct{}
	RetryRequested    struct{}
	ResumeRequested   struct{ ConversationID string }
	CloseRequested    struct{}
)

// Effect results.
type (
	StreamEvent struct {
		Seq   int
		Event sse.Event
	}
	StreamClosed struct {
		Seq int
		Err error
	}
	SynthesisDone struct {
		Seq  int
		Clip *playback.Clip
		Err  error
	}
	PlaybackEnded  struct{ Seq int }
	CountdownTick  struct{ Seq int }
	CaptureStarted struct{ Seq int }
	CaptureFailed  struct {
		Seq int
		Err error
	}
	CaptureProgress struct {
		Seq       int
		Remaining int
		Warning   bool
	}
	CaptureStopped struct {
		Seq int
		Err error
	}
	UploadDone struct {
		Seq  int
		File capture.UploadedFile
		Err  error
	}
	TranscriptionDone struct {
		Seq  int
		Text string
		Err  error
		// TurnID and Now seed the continuation turn.
		TurnID string
		Now    time.Time
	}
	HistoryLoaded struct {
		Seq    int
		Result history.Result
		Err    error
	}
	FeedbackFailed struct {
		MessageID string
		Err       error
	}
)

func (SubmitQuery) isEvent()       {}
func (PlaybackRequested) isEvent() {}
func (StopRequested) isEvent()     {}
func (RetryRequested) isEvent()    {}
func (ResumeRequested) isEvent()   {}
func (CloseRequested) isEvent()    {}
func (StreamEvent) isEvent()       {}
func (StreamClosed) isEvent()      {}
func (SynthesisDone) isEvent()     {}
func (PlaybackEnded) isEvent()     {}
func (CountdownTick) isEvent()     {}
func (CaptureStarted) isEvent()    {}
func (CaptureFailed) isEvent()     {}
func (CaptureProgress) isEvent()   {}
func (CaptureStopped) isEvent()    {}
func (UploadDone) isEvent()        {}
func (TranscriptionDone) isEvent() {}
func (HistoryLoaded) isEvent()     {}
func (FeedbackFailed) isEvent()    {}

// Effect is work the Machine asks its runtime to perform.
type Effect interface{ isEffect() }

type (
	OpenStream struct {
		Seq            int
		Query          string
		ConversationID string
	}
	Synthesize struct {
		Seq  int
		Text string
	}
	Play struct {
		Seq  int
		Clip *playback.Clip
	}
	// ReleaseAudio drops synthesized audio that will not be played.
	ReleaseAudio   struct{}
	StartCountdown struct {
		Seq     int
		Seconds int
	}
	StopCountdown struct{}
	StartCapture  struct {
		Seq    int
		Config capture.Config
	}
	StopCapture struct{ Seq int }
	Upload      struct {
		Seq  int
		Meta capture.UploadMeta
	}
	Transcribe struct {
		Seq  int
		File capture.UploadedFile
	}
	LoadHistory struct {
		Seq            int
		ConversationID string
	}
	// CancelWork abandons in-flight work before a conversation switch.
	CancelWork struct{}
	// Shutdown releases every resource of the session.
	Shutdown struct{}
	Notify   struct{ Notification Notification }
)

func (OpenStream) isEffect()     {}
func (Synthesize) isEffect()     {}
func (Play) isEffect()           {}
func (ReleaseAudio) isEffect()   {}
func (StartCountdown) isEffect() {}
func (StopCountdown) isEffect()  {}
func (StartCapture) isEffect()   {}
func (StopCapture) isEffect()    {}
func (Upload) isEffect()         {}
func (Transcribe) isEffect()     {}
func (LoadHistory) isEffect()    {}
func (CancelWork) isEffect()     {}
func (Shutdown) isEffect()       {}
func (Notify) isEffect()         {}
