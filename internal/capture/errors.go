package capture

import (
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a capture failure.
type Reason string

const (
	ReasonPermissionDenied        Reason = "permission_denied"
	ReasonDeviceNotFound          Reason = "device_not_found"
	ReasonDeviceBusy              Reason = "device_busy"
	ReasonConstraintUnsatisfiable Reason = "constraint_unsatisfiable"
	ReasonRecorderUnavailable     Reason = "recorder_unavailable"
	ReasonEmptyRecording          Reason = "empty_recording"
	ReasonOther                   Reason = "other"
)

// Sentinel device errors. Devices wrap these so Classify can tag them.
var (
	ErrPermissionDenied        = errors.New("permission denied")
	ErrDeviceNotFound          = errors.New("device not found")
	ErrDeviceBusy              = errors.New("device busy")
	ErrConstraintUnsatisfiable = errors.New("constraint unsatisfiable")
	ErrRecorderUnsupported     = errors.New("recorder configuration unsupported")
)

// Controller misuse errors.
var (
	ErrNotArmed     = errors.New("capture: not waiting to record")
	ErrNotRecording = errors.New("capture: not recording")
	ErrNoBlob       = errors.New("capture: no recording to upload")
	ErrDeviceInUse  = errors.New("capture: device still held by a previous capture")
	ErrBusy         = errors.New("capture: a capture is already in progress")
	ErrClosed       = errors.New("capture: controller closed")
)

// Error is a classified capture failure.
type Error struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture %s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("capture %s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NamedError is implemented by errors relayed from a browser, whose
// DOMException name identifies the failure.
type NamedError interface {
	error
	Name() string
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Message: reasonMessage(reason), Err: err}
}

// Wrap classifies err into an *Error, keeping an existing classification.
func Wrap(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return newError(Classify(err), err)
}

// Classify maps a device or recorder error to a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonOther
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, ErrDeviceNotFound):
		return ReasonDeviceNotFound
	case errors.Is(err, ErrDeviceBusy):
		return ReasonDeviceBusy
	case errors.Is(err, ErrConstraintUnsatisfiable):
		return ReasonConstraintUnsatisfiable
	case errors.Is(err, ErrRecorderUnsupported):
		return ReasonRecorderUnavailable
	}
	name := ""
	var ne NamedError
	if errors.As(err, &ne) {
		name = ne.Name()
	}
	return classifyName(name)
}

// classifyName maps getUserMedia DOMException names, including legacy ones.
func classifyName(name string) Reason {
	switch strings.TrimSpace(name) {
	case "NotAllowedError", "PermissionDeniedError", "SecurityError":
		return ReasonPermissionDenied
	case "NotFoundError", "DevicesNotFoundError":
		return ReasonDeviceNotFound
	case "NotReadableError", "TrackStartError", "AbortError":
		return ReasonDeviceBusy
	case "OverconstrainedError", "ConstraintNotSatisfiedError", "TypeError":
		return ReasonConstraintUnsatisfiable
	case "NotSupportedError":
		return ReasonRecorderUnavailable
	}
	return ReasonOther
}

func reasonMessage(r Reason) string {
	switch r {
	case ReasonPermissionDenied:
		return "camera or microphone permission was denied"
	case ReasonDeviceNotFound:
		return "no camera or microphone was found"
	case ReasonDeviceBusy:
		return "the camera or microphone is in use by another application"
	case ReasonConstraintUnsatisfiable:
		return "the device cannot satisfy the requested capture settings"
	case ReasonRecorderUnavailable:
		return "no supported recording format is available"
	case ReasonEmptyRecording:
		return "the recording is empty"
	default:
		return "the capture device failed"
	}
}
