package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeRecorder struct {
	data     []byte
	mime     string
	startErr error
	stopErr  error
	started  bool
	stopped  int
}

func (r *fakeRecorder) Start() error {
	r.started = true
	return r.startErr
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.stopped++
	return r.data, r.stopErr
}

func (r *fakeRecorder) MIMEType() string { return r.mime }

type fakeStream struct {
	mu       sync.Mutex
	rec      *fakeRecorder
	reject   map[string]bool
	attempts []string
	released int
}

func (s *fakeStream) NewRecorder(opts RecorderOptions) (Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, opts.MIMEType)
	if s.reject[opts.MIMEType] {
		return nil, errors.New("unsupported mime")
	}
	s.rec.mime = opts.MIMEType
	return s.rec, nil
}

func (s *fakeStream) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

func (s *fakeStream) releasedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (d *fakeDevice) Open(ctx context.Context, mode Mode) (Stream, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

type domError struct{ name string }

func (e domError) Error() string { return e.name + ": device request failed" }
func (e domError) Name() string  { return e.name }

type recordedEvents struct {
	mu       sync.Mutex
	ticks    []int
	warnings []int
	states   []State
	auto     []Blob
	autoErrs []*Error
}

func (r *recordedEvents) events() Events {
	return Events{
		OnStateChange: func(_, to State) {
			r.mu.Lock()
			r.states = append(r.states, to)
			r.mu.Unlock()
		},
		OnTick: func(remaining int) {
			r.mu.Lock()
			r.ticks = append(r.ticks, remaining)
			r.mu.Unlock()
		},
		OnWarning: func(remaining int) {
			r.mu.Lock()
			r.warnings = append(r.warnings, remaining)
			r.mu.Unlock()
		},
		OnAutoStop: func(blob Blob, err *Error) {
			r.mu.Lock()
			r.auto = append(r.auto, blob)
			r.autoErrs = append(r.autoErrs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recordedEvents) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func newTestController(t *testing.T, dev Device, cfg Config) (*Controller, *recordedEvents, *clock.Mock) {
	t.Helper()
	rec := &recordedEvents{}
	mock := clock.NewMock()
	c := NewController(dev, cfg, rec.events(), mock, nil)
	t.Cleanup(c.Close)
	return c, rec, mock
}

func generation(c *Controller) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func startRecording(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Arm(); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("expected recording, got %s", c.State())
	}
}

func TestController_PermissionDenied(t *testing.T) {
	for _, openErr := range []error{
		fmt.Errorf("open camera: %w", ErrPermissionDenied),
		domError{name: "NotAllowedError"},
	} {
		dev := &fakeDevice{openErr: openErr}
		c, _, _ := newTestController(t, dev, Config{Mode: ModeAudioVideo, MaxDuration: 10, WarningThreshold: 3})

		if err := c.Arm(); err != nil {
			t.Fatalf("arm: %v", err)
		}
		err := c.Start(context.Background())
		var cerr *Error
		if !errors.As(err, &cerr) || cerr.Reason != ReasonPermissionDenied {
			t.Fatalf("expected permission denied, got %v", err)
		}
		if c.State() != StateError {
			t.Fatalf("expected error state, got %s", c.State())
		}
		c.mu.Lock()
		ticking := c.stopTick != nil
		c.mu.Unlock()
		if ticking {
			t.Fatalf("no recording timer may start after a denied device")
		}
		if dev.opens != 1 {
			t.Fatalf("expected a single device request, got %d", dev.opens)
		}
		if err := c.Arm(); err != nil || c.State() != StateWaiting {
			t.Fatalf("expected the controller to accept a manual retry, err=%v state=%s", err, c.State())
		}
	}
}

func TestController_StartRequiresArm(t *testing.T) {
	c, _, _ := newTestController(t, &fakeDevice{}, DefaultConfig())
	if err := c.Start(context.Background()); !errors.Is(err, ErrNotArmed) {
		t.Fatalf("expected ErrNotArmed, got %v", err)
	}
}

func TestController_CodecFallback(t *testing.T) {
	stream := &fakeStream{
		rec:    &fakeRecorder{data: []byte("media")},
		reject: map[string]bool{"video/webm;codecs=vp8,opus": true, "video/webm": true},
	}
	c, _, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioVideo, MaxDuration: 10})
	startRecording(t, c)

	if len(stream.attempts) != 3 || stream.attempts[2] != "" {
		t.Fatalf("expected three attempts ending with the platform default, got %q", stream.attempts)
	}
}

func TestController_AllCodecsRejected(t *testing.T) {
	stream := &fakeStream{
		rec:    &fakeRecorder{},
		reject: map[string]bool{"audio/webm;codecs=opus": true, "audio/webm": true, "": true},
	}
	c, _, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 10})
	_ = c.Arm()
	err := c.Start(context.Background())
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Reason != ReasonRecorderUnavailable {
		t.Fatalf("expected recorder unavailable, got %v", err)
	}
	if stream.releasedCount() != 1 {
		t.Fatalf("expected tracks released after failed negotiation")
	}
}

func TestController_WarningRaisedOnce(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 6, WarningThreshold: 3})
	startRecording(t, c)
	gen := generation(c)

	for i := 0; i < 5; i++ {
		c.tick(gen)
	}
	if len(rec.warnings) != 1 || rec.warnings[0] != 3 {
		t.Fatalf("expected exactly one warning at 3s, got %v", rec.warnings)
	}
	if !c.Warned() || c.Remaining() != 1 {
		t.Fatalf("unexpected warned=%v remaining=%d", c.Warned(), c.Remaining())
	}
}

func TestController_WarningAtStartWhenThresholdCoversDuration(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 3, WarningThreshold: 5})
	startRecording(t, c)
	c.tick(generation(c))
	if len(rec.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", rec.warnings)
	}
}

func TestController_AutoStopAtDeadline(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 2})
	startRecording(t, c)
	gen := generation(c)

	c.tick(gen)
	c.tick(gen)
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
	if len(rec.auto) != 1 || string(rec.auto[0].Data) != "media" || rec.autoErrs[0] != nil {
		t.Fatalf("unexpected auto stop %+v %v", rec.auto, rec.autoErrs)
	}
	if stream.releasedCount() != 1 {
		t.Fatalf("expected tracks released on auto stop")
	}

	// A stale tick from the finished recording changes nothing.
	c.tick(gen)
	if c.State() != StateStopped || len(rec.auto) != 1 {
		t.Fatalf("stale tick changed the controller")
	}
}

func TestController_ZeroByteRecordingFails(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{}}
	c, _, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 10})
	startRecording(t, c)

	_, err := c.Stop()
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Reason != ReasonEmptyRecording {
		t.Fatalf("expected empty recording error, got %v", err)
	}
	if c.State() != StateError || stream.releasedCount() != 1 {
		t.Fatalf("expected error state with released tracks")
	}
	up := &fakeUploader{}
	if _, err := c.Upload(context.Background(), up, UploadMeta{}); !errors.Is(err, ErrNoBlob) {
		t.Fatalf("expected ErrNoBlob, got %v", err)
	}
	if up.calls != 0 {
		t.Fatalf("empty recording must never reach the uploader")
	}
}

func TestController_TracksReleasedWhenRecorderFails(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{stopErr: errors.New("encoder crashed")}}
	c, _, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 10})
	startRecording(t, c)

	if _, err := c.Stop(); err == nil {
		t.Fatalf("expected stop error")
	}
	if stream.releasedCount() != 1 {
		t.Fatalf("expected tracks released despite the recorder failure")
	}
}

func TestController_CloseStopsTimers(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, mock := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 5})
	startRecording(t, c)

	c.Close()
	c.Close()
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if n := rec.tickCount(); n != 0 {
		t.Fatalf("expected no ticks after close, got %d", n)
	}
	if c.State() != StateIdle || stream.releasedCount() == 0 {
		t.Fatalf("expected idle with released tracks, got %s", c.State())
	}
	if len(rec.auto) != 0 {
		t.Fatalf("auto stop fired after close")
	}
}

func TestController_ManualStopStopsTimer(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, mock := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 5})
	startRecording(t, c)

	if _, err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if n := rec.tickCount(); n != 0 {
		t.Fatalf("expected no ticks after stop, got %d", n)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", c.State())
	}
}

type fakeUploader struct {
	calls int
	err   error
	blob  Blob
}

func (u *fakeUploader) Upload(ctx context.Context, blob Blob, meta UploadMeta) (UploadedFile, error) {
	u.calls++
	u.blob = blob
	if u.err != nil {
		return UploadedFile{}, u.err
	}
	return UploadedFile{CosKey: "k/1.webm", FileName: "1.webm", FileSize: blob.Size(), Ext: blob.Ext()}, nil
}

func TestController_Upload(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, rec, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 5})
	startRecording(t, c)
	if _, err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	up := &fakeUploader{}
	file, err := c.Upload(context.Background(), up, UploadMeta{ConversationID: "c1", QuestionIndex: 2})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if file.CosKey != "k/1.webm" || file.FileSize != 5 || c.State() != StateDone {
		t.Fatalf("unexpected upload result %+v state=%s", file, c.State())
	}
	if _, err := c.Upload(context.Background(), up, UploadMeta{}); !errors.Is(err, ErrNoBlob) {
		t.Fatalf("expected blob cleared after upload, got %v", err)
	}

	want := []State{StateWaiting, StateRecording, StateStopped, StateUploading, StateDone}
	if fmt.Sprint(rec.states) != fmt.Sprint(want) {
		t.Fatalf("unexpected transitions %v", rec.states)
	}
}

func TestController_UploadFailure(t *testing.T) {
	stream := &fakeStream{rec: &fakeRecorder{data: []byte("media")}}
	c, _, _ := newTestController(t, &fakeDevice{stream: stream}, Config{Mode: ModeAudioOnly, MaxDuration: 5})
	startRecording(t, c)
	_, _ = c.Stop()

	if _, err := c.Upload(context.Background(), &fakeUploader{err: errors.New("503")}, UploadMeta{}); err == nil {
		t.Fatalf("expected upload error")
	}
	if c.State() != StateError {
		t.Fatalf("expected error state, got %s", c.State())
	}
}
