package journal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/interview"
	"github.com/chadiek/interview-agent/internal/logging"
)

// Recorder is an interview.Sink that journals every completed turn on its own
// goroutine so the session loop never waits on the database.
type Recorder struct {
	store *Store
	log   *zap.SugaredLogger
	queue chan interview.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, log *zap.SugaredLogger) *Recorder {
	r := &Recorder{
		store: store,
		log:   logging.OrNop(log),
		queue: make(chan interview.Notification, 64),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Notify queues turn_completed notifications and ignores the rest. A full
// queue drops the turn, as does a closed recorder.
func (r *Recorder) Notify(n interview.Notification) {
	if n.Kind != interview.KindTurnCompleted || n.Turn == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- n:
	default:
		r.log.Warnw("journal queue full, turn dropped", "message_id", n.MessageID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for n := range r.queue {
		turn := *n.Turn
		if turn.ConversationID == "" {
			turn.ConversationID = n.ConversationID
		}
		if err := r.store.Record(context.Background(), turn, n.QuestionIndex); err != nil {
			r.log.Warnw("journal write failed", "message_id", turn.ID, "error", err)
		}
	}
}

// Close flushes queued turns. It is idempotent.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}
