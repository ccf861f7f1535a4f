package capture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FFmpegDevice records the local microphone (and camera) through ffmpeg.
type FFmpegDevice struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
	// InputFormat is the ffmpeg demuxer, e.g. "avfoundation", "pulse", "dshow".
	InputFormat string
	// VideoInputFormat is the camera demuxer when it differs from the
	// microphone's, e.g. "v4l2" next to "pulse". Ignored by avfoundation.
	VideoInputFormat string
	AudioInput       string
	VideoInput       string
	// Dir holds the in-progress recordings; os.TempDir when empty.
	Dir string
	// StopTimeout bounds the wait for ffmpeg to finalize after SIGINT.
	StopTimeout time.Duration
}

// CheckFFmpeg reports whether the ffmpeg binary is available.
func (d *FFmpegDevice) CheckFFmpeg() error {
	if _, err := exec.LookPath(d.binary()); err != nil {
		return fmt.Errorf("%w: ffmpeg not found; install it with your package manager", ErrDeviceNotFound)
	}
	return nil
}

func (d *FFmpegDevice) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "ffmpeg"
}

// Open checks the binary and lists the encoders it offers.
func (d *FFmpegDevice) Open(ctx context.Context, mode Mode) (Stream, error) {
	if err := d.CheckFFmpeg(); err != nil {
		return nil, err
	}
	if d.AudioInput == "" {
		return nil, fmt.Errorf("%w: no audio input configured", ErrDeviceNotFound)
	}
	if mode == ModeAudioVideo && d.VideoInput == "" {
		return nil, fmt.Errorf("%w: no video input configured", ErrConstraintUnsatisfiable)
	}
	out, err := exec.CommandContext(ctx, d.binary(), "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("listing ffmpeg encoders: %w", err)
	}
	return &ffmpegStream{dev: d, mode: mode, encoders: string(out)}, nil
}

type ffmpegStream struct {
	dev      *FFmpegDevice
	mode     Mode
	encoders string

	mu       sync.Mutex
	released bool
}

// ffmpegCodecs maps a recorder MIME type to output arguments and the
// encoders they need.
func ffmpegCodecs(mime string, mode Mode) (args []string, needs []string, actual string) {
	switch mime {
	case "video/webm;codecs=vp8,opus":
		return []string{"-c:v", "libvpx", "-c:a", "libopus", "-f", "webm"}, []string{"libvpx", "libopus"}, mime
	case "audio/webm;codecs=opus":
		return []string{"-c:a", "libopus", "-f", "webm"}, []string{"libopus"}, mime
	case "video/webm":
		return []string{"-f", "webm"}, []string{"libvpx"}, mime
	case "audio/webm":
		return []string{"-f", "webm"}, []string{"libvorbis"}, mime
	}
	if mode == ModeAudioVideo {
		return []string{"-f", "matroska"}, nil, "video/x-matroska"
	}
	return []string{"-ac", "1", "-ar", "16000", "-f", "wav"}, nil, "audio/wav"
}

func (s *ffmpegStream) NewRecorder(opts RecorderOptions) (Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, fmt.Errorf("%w: stream released", ErrDeviceBusy)
	}
	args, needs, actual := ffmpegCodecs(opts.MIMEType, s.mode)
	for _, enc := range needs {
		if !strings.Contains(s.encoders, " "+enc+" ") {
			return nil, fmt.Errorf("%w: encoder %s unavailable", ErrRecorderUnsupported, enc)
		}
	}
	dir := s.dev.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "capture-"+uuid.NewString()+"."+Blob{MIMEType: actual}.Ext())
	return &ffmpegRecorder{stream: s, outArgs: args, mime: actual, path: path}, nil
}

func (s *ffmpegStream) Release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

func (s *ffmpegStream) inputArgs() []string {
	d := s.dev
	args := []string{"-hide_banner", "-loglevel", "error"}
	if d.InputFormat == "avfoundation" {
		input := ":" + d.AudioInput
		if s.mode == ModeAudioVideo {
			input = d.VideoInput + ":" + d.AudioInput
		}
		return append(args, "-f", d.InputFormat, "-i", input)
	}
	// Demuxers other than avfoundation take one device per -i.
	if d.InputFormat != "" {
		args = append(args, "-f", d.InputFormat)
	}
	args = append(args, "-i", d.AudioInput)
	if s.mode == ModeAudioVideo {
		format := d.VideoInputFormat
		if format == "" {
			format = d.InputFormat
		}
		if format != "" {
			args = append(args, "-f", format)
		}
		args = append(args, "-i", d.VideoInput)
	}
	return args
}

type ffmpegRecorder struct {
	stream  *ffmpegStream
	outArgs []string
	mime    string
	path    string

	cmd    *exec.Cmd
	stderr bytes.Buffer
	done   chan error
}

func (r *ffmpegRecorder) MIMEType() string { return r.mime }

func (r *ffmpegRecorder) Start() error {
	args := append(r.stream.inputArgs(), r.outArgs...)
	args = append(args, "-y", r.path)
	r.cmd = exec.Command(r.stream.dev.binary(), args...)
	r.cmd.Stderr = &r.stderr
	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	r.done = make(chan error, 1)
	go func() { r.done <- r.cmd.Wait() }()

	// ffmpeg exits almost immediately when the device cannot be opened.
	select {
	case err := <-r.done:
		r.done <- err
		return classifyFFmpeg(r.stderr.String(), err)
	case <-time.After(300 * time.Millisecond):
	}
	return nil
}

// Stop interrupts ffmpeg so it finalizes the container, then reads the file.
func (r *ffmpegRecorder) Stop() ([]byte, error) {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil, fmt.Errorf("%w: recorder never started", ErrDeviceBusy)
	}
	defer os.Remove(r.path)

	timeout := r.stream.dev.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = r.cmd.Process.Signal(os.Interrupt)
	select {
	case <-r.done:
	case <-time.After(timeout):
		_ = r.cmd.Process.Kill()
		<-r.done
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	return data, nil
}

// classifyFFmpeg turns an early ffmpeg exit into a device error.
func classifyFFmpeg(stderr string, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, strings.TrimSpace(stderr))
	case strings.Contains(msg, "no such file"), strings.Contains(msg, "not found"), strings.Contains(msg, "could not find"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, strings.TrimSpace(stderr))
	case strings.Contains(msg, "invalid argument"), strings.Contains(msg, "not supported"):
		return fmt.Errorf("%w: %s", ErrConstraintUnsatisfiable, strings.TrimSpace(stderr))
	}
	if err == nil {
		return fmt.Errorf("ffmpeg exited early: %s", strings.TrimSpace(stderr))
	}
	return fmt.Errorf("ffmpeg exited early: %w: %s", err, strings.TrimSpace(stderr))
}
