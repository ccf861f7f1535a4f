package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/interview-agent/internal/agentapi"
	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/sse"
)

type fakeAgent struct{}

func (fakeAgent) Chat(ctx context.Context, req agentapi.ChatRequest) (<-chan sse.Event, <-chan error) {
	events := make(chan sse.Event, 2)
	errs := make(chan error, 1)
	events <- sse.Event{Event: "message", ConversationID: "c1", MessageID: "m1", Answer: "Hi"}
	events <- sse.Event{Event: "message_end", ConversationID: "c1", MessageID: "m1"}
	close(events)
	close(errs)
	return events, errs
}

func (fakeAgent) Transcribe(ctx context.Context, file capture.UploadedFile) (string, error) {
	return "", nil
}

func (fakeAgent) SubmitFeedback(ctx context.Context, messageID, rating, content string) error {
	return nil
}

func textSession(s Session) *interview.Orchestrator {
	cfg := interview.DefaultConfig()
	cfg.Mode = interview.ModeText
	cfg.EnableAudio = false
	return interview.New(cfg, interview.Deps{Agent: fakeAgent{}, Device: s.Device, Sink: s.Sink})
}

func serve(t *testing.T, h *Handler) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType skips frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if m.Type == typ {
			return m
		}
	}
}

func TestCheckAuthHeaderOrQuery(t *testing.T) {
	if checkAuthHeaderOrQuery(nil, "") {
		t.Fatalf("nil request must not authorize")
	}

	r := httptest.NewRequest(http.MethodGet, "/ws?password=secret", nil)
	if !checkAuthHeaderOrQuery(r, "secret") {
		t.Fatalf("expected query password to authorize")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.Header.Set("Authorization", "Bearer tok")
	if !checkAuthHeaderOrQuery(r2, "tok") {
		t.Fatalf("expected bearer token to authorize")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r3.Header.Set("X-Auth-Token", "abc")
	if !checkAuthHeaderOrQuery(r3, "abc") {
		t.Fatalf("expected X-Auth-Token to authorize")
	}

	r4 := httptest.NewRequest(http.MethodGet, "/ws?password=wrong", nil)
	r4.Header.Set("Authorization", "Bearer nope")
	if checkAuthHeaderOrQuery(r4, "secret") {
		t.Fatalf("wrong credentials must not authorize")
	}
}

func TestHandler_TextTurnOverWebsocket(t *testing.T) {
	conn := dial(t, serve(t, NewHandler(textSession, "", nil)), nil)

	if err := conn.WriteJSON(message{Type: "query", Text: "Hello"}); err != nil {
		t.Fatal(err)
	}
	var done *interview.Notification
	for done == nil {
		m := readType(t, conn, "notification")
		if m.Notification != nil && m.Notification.Kind == interview.KindTurnCompleted {
			done = m.Notification
		}
	}
	if done.Turn == nil || done.Turn.Answer != "Hi" || done.ConversationID != "c1" {
		t.Fatalf("unexpected completion %+v", done)
	}

	// The snapshot is stored right after the notification goes out.
	var snap *interview.Snapshot
	for i := 0; i < 50; i++ {
		if err := conn.WriteJSON(message{Type: "snapshot"}); err != nil {
			t.Fatal(err)
		}
		snap = readType(t, conn, "snapshot").Snapshot
		if snap != nil && snap.QuestionIndex == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if snap == nil || snap.QuestionIndex != 1 || len(snap.History) != 1 || snap.Phase != interview.PhaseIdle {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestHandler_ReportsRejectedCommands(t *testing.T) {
	conn := dial(t, serve(t, NewHandler(textSession, "", nil)), nil)

	if err := conn.WriteJSON(message{Type: "query", Text: "  "}); err != nil {
		t.Fatal(err)
	}
	if m := readType(t, conn, "error"); !strings.Contains(m.Error, "empty") {
		t.Fatalf("unexpected error frame %+v", m)
	}
	if err := conn.WriteJSON(message{Type: "dance"}); err != nil {
		t.Fatal(err)
	}
	if m := readType(t, conn, "error"); !strings.Contains(m.Error, "dance") {
		t.Fatalf("unexpected error frame %+v", m)
	}
}

func TestHandler_FirstFrameAuth(t *testing.T) {
	url := serve(t, NewHandler(textSession, "secret", nil))

	bad := dial(t, url, nil)
	if err := bad.WriteJSON(message{Type: "auth", Password: "guess"}); err != nil {
		t.Fatal(err)
	}
	if m := readType(t, bad, "error"); m.Error != "unauthorized" {
		t.Fatalf("unexpected error %+v", m)
	}

	good := dial(t, url, nil)
	if err := good.WriteJSON(message{Type: "auth", Password: "secret"}); err != nil {
		t.Fatal(err)
	}
	if err := good.WriteJSON(message{Type: "snapshot"}); err != nil {
		t.Fatal(err)
	}
	if m := readType(t, good, "snapshot"); m.Snapshot == nil || m.Snapshot.Phase != interview.PhaseIdle {
		t.Fatalf("unexpected snapshot %+v", m)
	}
}

// browserSession connects and returns the Session handed to the factory.
func browserSession(t *testing.T) (*websocket.Conn, Session) {
	t.Helper()
	sessions := make(chan Session, 1)
	factory := func(s Session) *interview.Orchestrator {
		sessions <- s
		return textSession(s)
	}
	conn := dial(t, serve(t, NewHandler(factory, "", nil)), nil)
	select {
	case s := <-sessions:
		return conn, s
	case <-time.After(3 * time.Second):
		t.Fatalf("session was never created")
	}
	return nil, Session{}
}

func reply(t *testing.T, conn *websocket.Conn, m message) {
	t.Helper()
	m.Type = "result"
	if err := conn.WriteJSON(m); err != nil {
		t.Fatal(err)
	}
}

func TestDevice_RefusalIsClassified(t *testing.T) {
	conn, s := browserSession(t)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Device.Open(context.Background(), capture.ModeAudioOnly)
		errc <- err
	}()
	call := readType(t, conn, "open_device")
	if call.Mode != string(capture.ModeAudioOnly) {
		t.Fatalf("mode = %q", call.Mode)
	}
	reply(t, conn, message{RequestID: call.RequestID, ErrorName: "NotAllowedError", Error: "Permission denied"})

	err := <-errc
	var be *BrowserError
	if !errors.As(err, &be) || capture.Classify(err) != capture.ReasonPermissionDenied {
		t.Fatalf("expected a permission refusal, got %v", err)
	}
}

func TestDevice_RecordingRoundTrip(t *testing.T) {
	conn, s := browserSession(t)

	type result struct {
		data []byte
		mime string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := s.Device.Open(context.Background(), capture.ModeAudioVideo)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer stream.Release()
		rec, err := stream.NewRecorder(capture.RecorderOptions{MIMEType: "video/webm"})
		if err != nil {
			done <- result{err: err}
			return
		}
		if err := rec.Start(); err != nil {
			done <- result{err: err}
			return
		}
		data, err := rec.Stop()
		done <- result{data: data, mime: rec.MIMEType(), err: err}
	}()

	reply(t, conn, message{RequestID: readType(t, conn, "open_device").RequestID})
	call := readType(t, conn, "new_recorder")
	if call.MIME != "video/webm" {
		t.Fatalf("requested mime = %q", call.MIME)
	}
	reply(t, conn, message{RequestID: call.RequestID, MIME: "video/webm;codecs=vp8,opus"})
	reply(t, conn, message{RequestID: readType(t, conn, "record_start").RequestID})
	reply(t, conn, message{RequestID: readType(t, conn, "record_stop").RequestID, Data: []byte("blob")})
	readType(t, conn, "release")

	res := <-done
	if res.err != nil {
		t.Fatalf("recording failed: %v", res.err)
	}
	if string(res.data) != "blob" || res.mime != "video/webm;codecs=vp8,opus" {
		t.Fatalf("unexpected recording %q %q", res.data, res.mime)
	}
}

func TestPlayer_CancelStopsBrowserAudio(t *testing.T) {
	conn, s := browserSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Player.Play(ctx, "https://agent.example/audio/1") }()

	call := readType(t, conn, "play_audio")
	if call.URL != "https://agent.example/audio/1" {
		t.Fatalf("url = %q", call.URL)
	}
	cancel()
	readType(t, conn, "stop_audio")
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	go func() { errc <- s.Player.Play(context.Background(), "https://agent.example/audio/2") }()
	reply(t, conn, message{RequestID: readType(t, conn, "play_audio").RequestID})
	if err := <-errc; err != nil {
		t.Fatalf("play: %v", err)
	}
}
