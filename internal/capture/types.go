package capture

import (
	"context"
	"strings"
)

// Mode selects the tracks a capture records.
type Mode string

const (
	ModeAudioVideo Mode = "audio+video"
	ModeAudioOnly  Mode = "audio-only"
)

// State is the lifecycle state of a Controller.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateRecording
	StateStopped
	StateUploading
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateUploading:
		return "uploading"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Device acquires capture streams from the platform.
type Device interface {
	// Open requests permission and opens tracks for mode.
	Open(ctx context.Context, mode Mode) (Stream, error)
}

// Stream is an open set of device tracks.
type Stream interface {
	// NewRecorder builds a recorder; an empty MIMEType asks for the platform default.
	NewRecorder(opts RecorderOptions) (Recorder, error)
	// Release stops every track. It must be safe to call more than once.
	Release()
}

// Recorder records one capture from a Stream.
type Recorder interface {
	Start() error
	// Stop ends the recording and returns the assembled media.
	Stop() ([]byte, error)
	// MIMEType is the encoding actually produced.
	MIMEType() string
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	MIMEType string
}

// Blob is the media assembled by a stopped recording.
type Blob struct {
	Data     []byte
	MIMEType string
	Mode     Mode
}

// Size is the blob length in bytes.
func (b Blob) Size() int64 { return int64(len(b.Data)) }

// Ext returns the file extension matching the blob encoding.
func (b Blob) Ext() string {
	mime := strings.ToLower(b.MIMEType)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch mime {
	case "video/webm", "audio/webm":
		return "webm"
	case "video/mp4", "audio/mp4":
		return "mp4"
	case "audio/ogg":
		return "ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	case "video/x-matroska":
		return "mkv"
	}
	return "webm"
}

// UploadMeta describes a blob for the upload primitive.
type UploadMeta struct {
	ConversationID string
	QuestionIndex  int
	Tags           []string
}

// UploadedFile is the upload primitive's answer.
type UploadedFile struct {
	CosKey   string `json:"cos_key"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Ext      string `json:"ext"`
}

// Uploader stores a captured blob.
type Uploader interface {
	Upload(ctx context.Context, blob Blob, meta UploadMeta) (UploadedFile, error)
}

// recorderCandidates lists the encodings tried in order: preferred codec,
// generic container, platform default.
func recorderCandidates(mode Mode) []RecorderOptions {
	if mode == ModeAudioVideo {
		return []RecorderOptions{
			{MIMEType: "video/webm;codecs=vp8,opus"},
			{MIMEType: "video/webm"},
			{},
		}
	}
	return []RecorderOptions{
		{MIMEType: "audio/webm;codecs=opus"},
		{MIMEType: "audio/webm"},
		{},
	}
}
