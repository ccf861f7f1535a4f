package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/playback"
)

const authTimeout = 10 * time.Second

// Session is what a connected browser contributes to an interview.
type Session struct {
	Device capture.Device
	Player playback.Player
	Sink   interview.Sink
}

// SessionFactory builds the orchestrator for one connection. It must not
// start it.
type SessionFactory func(s Session) *interview.Orchestrator

// Handler serves one interview per websocket connection.
type Handler struct {
	newSession SessionFactory
	password   string
	log        *zap.SugaredLogger
}

// NewHandler returns a Handler. An empty password disables auth.
func NewHandler(newSession SessionFactory, password string, log *zap.SugaredLogger) *Handler {
	return &Handler{newSession: newSession, password: password, log: logging.OrNop(log)}
}

// ServeHTTP upgrades to a websocket and runs the session until the browser
// leaves or says "bye".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("ws upgrade error", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// Authorization: Bearer <pwd>, ?password=... or a first frame of type auth.
	if h.password != "" && !checkAuthHeaderOrQuery(r, h.password) {
		if err := h.awaitAuth(conn); err != nil {
			_ = writeWSError(conn, err)
			return
		}
	}

	peer := newPeer(conn, h.log)
	peer.start()
	defer peer.Close()

	orch := h.newSession(Session{
		Device: &Device{peer: peer},
		Player: &Player{peer: peer},
		Sink:   peer,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx); err != nil {
		peer.send(message{Type: "error", Error: err.Error()})
		return
	}
	defer orch.Close()
	h.log.Infow("browser session opened", "remote", r.RemoteAddr)

	for {
		select {
		case m := <-peer.commands:
			if m.Type == "bye" {
				h.log.Infow("browser session closed", "remote", r.RemoteAddr)
				return
			}
			h.dispatch(ctx, orch, peer, m)
		case <-peer.Done():
			h.log.Infow("browser disconnected", "remote", r.RemoteAddr)
			return
		case <-orch.Done():
			return
		}
	}
}

func (h *Handler) awaitAuth(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("auth required")
	}
	if mt != websocket.TextMessage {
		return fmt.Errorf("invalid auth frame")
	}
	var m message
	if jerr := json.Unmarshal(data, &m); jerr != nil || strings.ToLower(m.Type) != "auth" || m.Password != h.password {
		return fmt.Errorf("unauthorized")
	}
	return nil
}

func (h *Handler) dispatch(ctx context.Context, orch *interview.Orchestrator, peer *Peer, m message) {
	var err error
	switch m.Type {
	case "greet":
		err = orch.Greet(ctx)
	case "query":
		err = orch.StartTurn(ctx, m.Text)
	case "stop":
		err = orch.StopCapture()
	case "play":
		err = orch.PlayAudio()
	case "retry":
		err = orch.RetryCapture()
	case "resume":
		err = orch.Resume(ctx, m.ConversationID)
	case "feedback":
		go func() {
			if err := orch.SubmitFeedback(ctx, m.MessageID, m.Rating); err != nil {
				h.log.Warnw("feedback failed", "message_id", m.MessageID, "error", err)
			}
		}()
		return
	case "snapshot":
		snap := orch.Snapshot()
		peer.send(message{Type: "snapshot", Snapshot: &snap})
		return
	case "auth":
		return
	default:
		err = fmt.Errorf("unknown command %q", m.Type)
	}
	if err != nil {
		peer.send(message{Type: "error", RequestID: m.RequestID, Error: err.Error()})
	}
}
