// Package relay drives an interview from a browser over a websocket. The
// browser owns the microphone, camera and speakers; the server runs the
// orchestrator and calls the browser for media whenever it needs some.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/interview"
)

// message is the single frame format in both directions.
//
// Browser to server: "auth", "greet", "query", "stop", "play", "retry",
// "resume", "feedback", "snapshot", "bye" and "result".
// Server to browser: "notification", "snapshot", "error", "open_device",
// "new_recorder", "record_start", "record_stop", "release", "play_audio"
// and "stop_audio".
type message struct {
	Type string `json:"type"`
	// RequestID pairs a server call with its "result".
	RequestID string `json:"request_id,omitempty"`
	// auth
	Password string `json:"password,omitempty"`
	// query, resume and feedback
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Rating         string `json:"rating,omitempty"`
	// media calls and their results
	Mode string `json:"mode,omitempty"`
	MIME string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
	// ErrorName carries the DOMException name of a failed browser call.
	ErrorName string `json:"error_name,omitempty"`
	Error     string `json:"error,omitempty"`

	Notification *interview.Notification `json:"notification,omitempty"`
	Snapshot     *interview.Snapshot     `json:"snapshot,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ErrPeerClosed is returned by calls pending when the browser went away.
var ErrPeerClosed = errors.New("relay: browser disconnected")

// BrowserError is a failed browser call. Name is the DOMException name.
type BrowserError struct {
	ErrName string
	Message string
}

func (e *BrowserError) Error() string {
	if e.ErrName == "" {
		return "browser: " + e.Message
	}
	return fmt.Sprintf("browser: %s: %s", e.ErrName, e.Message)
}

// Name implements capture.NamedError.
func (e *BrowserError) Name() string { return e.ErrName }

const (
	outboundQueue = 256
	writeTimeout  = 10 * time.Second
	// notifyTimeout bounds how long a notification that must not be lost
	// waits for room in the outbound queue.
	notifyTimeout = 2 * time.Second
)

// Peer is one browser connection. A single goroutine writes frames; a
// single goroutine reads them and routes results to pending calls.
type Peer struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger

	out      chan message
	commands chan message
	done     chan struct{}
	once     sync.Once
	nextID   atomic.Int64

	mu      sync.Mutex
	pending map[string]chan message
}

func newPeer(conn *websocket.Conn, log *zap.SugaredLogger) *Peer {
	return &Peer{
		conn:     conn,
		log:      log,
		out:      make(chan message, outboundQueue),
		commands: make(chan message, 16),
		done:     make(chan struct{}),
		pending:  make(map[string]chan message),
	}
}

func (p *Peer) start() {
	go p.writeLoop()
	go p.readLoop()
}

func (p *Peer) writeLoop() {
	for {
		select {
		case m := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := writeWS(p.conn, m); err != nil {
				p.log.Debugw("ws write failed", "type", m.Type, "error", err)
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) readLoop() {
	defer p.Close()
	for {
		var m message
		if err := p.conn.ReadJSON(&m); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debugw("ws read ended", "error", err)
			}
			return
		}
		m.Type = strings.ToLower(m.Type)
		if m.Type == "result" {
			p.deliver(m)
			continue
		}
		select {
		case p.commands <- m:
		case <-p.done:
			return
		}
	}
}

func (p *Peer) deliver(m message) {
	p.mu.Lock()
	ch, ok := p.pending[m.RequestID]
	delete(p.pending, m.RequestID)
	p.mu.Unlock()
	if !ok {
		p.log.Debugw("result for unknown request", "request_id", m.RequestID)
		return
	}
	ch <- m
}

// send queues a frame without blocking. It reports false when the frame
// was dropped.
func (p *Peer) send(m message) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- m:
		return true
	default:
		p.log.Warnw("ws outbound queue full, dropping frame", "type", m.Type)
		return false
	}
}

// call sends m and waits for the browser's result.
func (p *Peer) call(ctx context.Context, m message) (message, error) {
	m.RequestID = fmt.Sprintf("r%d", p.nextID.Add(1))
	reply := make(chan message, 1)
	p.mu.Lock()
	p.pending[m.RequestID] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, m.RequestID)
		p.mu.Unlock()
	}()

	select {
	case p.out <- m:
	case <-ctx.Done():
		return message{}, ctx.Err()
	case <-p.done:
		return message{}, ErrPeerClosed
	}
	select {
	case r := <-reply:
		if r.Error != "" || r.ErrorName != "" {
			return r, &BrowserError{ErrName: r.ErrorName, Message: r.Error}
		}
		return r, nil
	case <-ctx.Done():
		return message{}, ctx.Err()
	case <-p.done:
		return message{}, ErrPeerClosed
	}
}

// Notify implements interview.Sink. Progress ticks are dropped when the
// browser falls behind; every other kind waits up to notifyTimeout.
func (p *Peer) Notify(n interview.Notification) {
	m := message{Type: "notification", Notification: &n}
	switch n.Kind {
	case interview.KindRecordingTick, interview.KindCountdown:
		p.send(m)
	default:
		if !p.sendWait(m, notifyTimeout) {
			p.log.Debugw("notification not delivered", "kind", n.Kind)
		}
	}
}

// sendWait queues a frame, waiting up to timeout for room in the queue.
func (p *Peer) sendWait(m message, timeout time.Duration) bool {
	select {
	case <-p.done:
		return false
	case p.out <- m:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p.out <- m:
		return true
	case <-p.done:
		return false
	case <-t.C:
		p.log.Warnw("ws outbound queue full, dropping frame", "type", m.Type)
		return false
	}
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close drops the connection. It is idempotent.
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// Authorized reports whether r carries password. An empty password
// authorizes everything.
func Authorized(r *http.Request, password string) bool {
	return password == "" || checkAuthHeaderOrQuery(r, password)
}

func checkAuthHeaderOrQuery(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		tok := strings.TrimSpace(ah[len("Bearer "):])
		if tok == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}

func writeWS(conn *websocket.Conn, v interface{}) error {
	return conn.WriteJSON(v)
}

func writeWSError(conn *websocket.Conn, err error) error {
	return conn.WriteJSON(message{Type: "error", Error: err.Error()})
}
