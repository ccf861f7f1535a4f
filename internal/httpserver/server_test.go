package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/journal"
)

func do(t *testing.T, srv *Server, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv := New(Options{})
	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", w.Code, w.Body.String())
	}
}

func TestServer_OptionalRoutesAbsent(t *testing.T) {
	srv := New(Options{})
	for _, path := range []string{"/ws", "/api/conversations", "/clips/speech-1.wav"} {
		if w := do(t, srv, httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestServer_RelayMounted(t *testing.T) {
	called := false
	relay := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	srv := New(Options{Relay: relay})
	do(t, srv, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if !called {
		t.Fatalf("relay handler was not reached")
	}
}

func journalWithTurn(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	turn := conversation.Turn{
		ID:             "m1",
		ConversationID: "c1",
		Query:          "Hello",
		Answer:         "Tell me about yourself",
		Status:         conversation.StatusNormal,
		CreatedAt:      time.Unix(1700000000, 0),
	}
	if err := store.Record(context.Background(), turn, 1); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestServer_JournalRoutes(t *testing.T) {
	srv := New(Options{Journal: journalWithTurn(t)})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("conversations: %d %s", w.Code, w.Body.String())
	}
	var list []journal.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ConversationID != "c1" || list[0].Turns != 1 {
		t.Fatalf("unexpected conversations %+v", list)
	}

	w = do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations/c1/turns", nil))
	var entries []journal.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Answer != "Tell me about yourself" {
		t.Fatalf("unexpected turns %+v", entries)
	}

	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations/nope/turns", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation: expected 404, got %d", w.Code)
	}
	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations?limit=zero", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestServer_JournalRequiresPassword(t *testing.T) {
	srv := New(Options{Journal: journalWithTurn(t), Password: "secret"})

	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/conversations", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", w.Code)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	r.Header.Set("Authorization", "bearer secret")
	if w := do(t, srv, r); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with lowercase bearer prefix, got %d", w.Code)
	}
	r2 := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	r2.Header.Set("X-Auth-Token", "nope")
	if w := do(t, srv, r2); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong X-Auth-Token, got %d", w.Code)
	}
}

func TestServer_Clips(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "speech-1.wav"), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := New(Options{ClipDir: dir})

	w := do(t, srv, httptest.NewRequest(http.MethodGet, "/clips/speech-1.wav", nil))
	if w.Code != http.StatusOK || w.Body.String() != "RIFF" {
		t.Fatalf("expected the clip, got %d %q", w.Code, w.Body.String())
	}
	if w := do(t, srv, httptest.NewRequest(http.MethodGet, "/clips/secret.txt", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("non-clip file: expected 404, got %d", w.Code)
	}
}
