package interview

import "fmt"

// Phase is the state of the turn state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	// PhaseResuming waits for a reloaded history.
	PhaseResuming
	PhaseStreaming
	PhaseSynthesizing
	PhasePlaying
	// PhaseAwaitingPlayback holds synthesized audio until the candidate plays it.
	PhaseAwaitingPlayback
	PhaseWaitingToCapture
	PhaseCapturing
	// PhaseTranscribing covers the upload and the transcription of a capture.
	PhaseTranscribing
	PhaseError
	PhaseCompleted
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseResuming:
		return "resuming"
	case PhaseStreaming:
		return "streaming"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhasePlaying:
		return "playing"
	case PhaseAwaitingPlayback:
		return "awaiting_playback"
	case PhaseWaitingToCapture:
		return "waiting_to_capture"
	case PhaseCapturing:
		return "capturing"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseError:
		return "error"
	case PhaseCompleted:
		return "completed"
	case PhaseClosed:
		return "closed"
	default:
		return "idle"
	}
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseIdle; q <= PhaseClosed; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("interview: unknown phase %q", b)
}
