package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chadiek/interview-agent/internal/app"
	"github.com/chadiek/interview-agent/internal/config"
	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/output"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newDeps(t *testing.T, baseURL string) *Dependencies {
	t.Helper()
	cfg := config.FromEnv(func(string) string { return "" })
	cfg.AgentBaseURL = baseURL
	cfg.AgentUser = "candidate"
	cfg.JournalPath = ":memory:"
	cfg.Interview.Mode = interview.ModeText
	cfg.Interview.EnableAudio = false
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return &Dependencies{App: a, Config: cfg}
}

func execute(t *testing.T, deps *Dependencies, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	root := NewRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	if in != nil {
		root.SetIn(in)
	}
	return root.ExecuteContext(context.Background())
}

func TestHistory_ListsJournal(t *testing.T) {
	deps := newDeps(t, "http://agent.invalid")
	turn := conversation.Turn{
		ID:             "m1",
		ConversationID: "c1",
		Query:          "Hello",
		Answer:         "Tell me about yourself",
		Status:         conversation.StatusNormal,
		CreatedAt:      time.Now(),
	}
	if err := deps.App.Journal().Record(context.Background(), turn, 1); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := execute(t, deps, nil, &out, "history"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "c1  1 turns") {
		t.Fatalf("unexpected listing:\n%s", out.String())
	}

	out.Reset()
	if err := execute(t, deps, nil, &out, "history", "c1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "1. > Hello") || !strings.Contains(out.String(), "Tell me about yourself") {
		t.Fatalf("unexpected turns:\n%s", out.String())
	}
}

func TestHistory_EmptyJournal(t *testing.T) {
	deps := newDeps(t, "http://agent.invalid")
	var out bytes.Buffer
	if err := execute(t, deps, nil, &out, "history"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No conversations journaled") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDoctor_ReportsMissingAgentSettings(t *testing.T) {
	deps := newDeps(t, "")
	deps.Config.AgentUser = ""
	var out bytes.Buffer
	if err := execute(t, deps, nil, &out, "doctor"); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"❌ Agent base URL", "❌ Agent user", "Some prerequisites are missing"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func chatServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-messages" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"message\",\"conversation_id\":\"c1\",\"message_id\":\"m1\",\"answer\":\"Why this role?\"}\n\n")
		fmt.Fprint(w, "data: {\"event\":\"message_end\",\"conversation_id\":\"c1\",\"message_id\":\"m1\"}\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStart_TextInterview(t *testing.T) {
	deps := newDeps(t, chatServer(t).URL)

	in, feed := io.Pipe()
	out := &syncBuffer{}
	errc := make(chan error, 1)
	go func() { errc <- execute(t, deps, in, out, "start", "--mode", "text") }()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(out.String(), "Why this role?") {
		if time.Now().After(deadline) {
			t.Fatalf("question never shown:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := io.WriteString(feed, "/status\n/quit\n"); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("start: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Conversation c1") || !strings.Contains(got, "Question 1") || !strings.Contains(got, "Phase ") {
		t.Fatalf("unexpected session output:\n%s", got)
	}
	feed.Close()
}

func TestConsole_RendersNotifications(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(output.NewFormatter(&out))
	c.Notify(interview.Notification{Kind: interview.KindTurnCompleted, QuestionIndex: 2, Turn: &conversation.Turn{ID: "m2", Answer: "Next question"}})
	c.Notify(interview.Notification{Kind: interview.KindCountdown, Remaining: 3})
	c.Notify(interview.Notification{Kind: interview.KindDeviceError, Error: &interview.ErrorInfo{Kind: interview.ErrorDevice, Message: "Microphone access was denied"}})
	c.Notify(interview.Notification{Kind: interview.KindRecordingTick, Remaining: 59})
	c.Notify(interview.Notification{Kind: interview.KindInterviewComplete})

	got := out.String()
	for _, want := range []string{"Question 2:\nNext question", "starts in 3s", "Microphone access was denied", "/retry", "Interview complete"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "59s") {
		t.Errorf("ticks off the 30s grid should not print:\n%s", got)
	}
	if c.last() != "m2" {
		t.Fatalf("last message = %q", c.last())
	}
	select {
	case <-c.completed:
	default:
		t.Fatalf("interview_complete should close completed")
	}
}
