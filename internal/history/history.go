// Package history reloads a conversation from the agent API so an interview
// can resume where it stopped.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/agentapi"
	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/protocol"
)

// Source is the part of the agent API the loader reads.
type Source interface {
	ConversationStatus(ctx context.Context, conversationID string) (agentapi.SessionStatus, error)
	Messages(ctx context.Context, conversationID, firstID string, limit int) (agentapi.MessagesPage, error)
}

// DefaultTransientPhrases mark answers left by a failed turn.
var DefaultTransientPhrases = []string{
	"timeout", "timed out", "congestion", "congested", "too busy",
	"超时", "拥堵", "繁忙",
}

const (
	defaultPageSize = 50
	maxPages        = 100
)

// Result is a reloaded conversation.
type Result struct {
	ConversationID string
	// Turns in chronological order.
	Turns []conversation.Turn
	// Ended is true when the remote session is over.
	Ended bool
	// Answered counts the turns that were not transient failures.
	Answered int
}

// Last returns the most recent turn.
func (r Result) Last() (conversation.Turn, bool) {
	if len(r.Turns) == 0 {
		return conversation.Turn{}, false
	}
	return r.Turns[len(r.Turns)-1], true
}

// Loader fetches and normalizes a conversation history.
type Loader struct {
	Source           Source
	TransientPhrases []string
	PageSize         int
	Log              *zap.SugaredLogger
}

// NewLoader returns a loader with the default transient phrases.
func NewLoader(src Source, log *zap.SugaredLogger) *Loader {
	return &Loader{Source: src, TransientPhrases: DefaultTransientPhrases, PageSize: defaultPageSize, Log: log}
}

// Load fetches the session status and every page of messages.
func (l *Loader) Load(ctx context.Context, conversationID string) (Result, error) {
	log := logging.OrNop(l.Log)
	if strings.TrimSpace(conversationID) == "" {
		return Result{}, fmt.Errorf("history: conversation id required")
	}
	status, err := l.Source.ConversationStatus(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("history: %w", err)
	}

	msgs, err := l.fetchAll(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("history: %w", err)
	}

	res := Result{ConversationID: conversationID, Ended: status.Ended(), Turns: make([]conversation.Turn, 0, len(msgs))}
	for _, m := range msgs {
		t := l.turn(conversationID, m)
		if t.Status == conversation.StatusNormal {
			res.Answered++
		}
		res.Turns = append(res.Turns, t)
	}
	log.Infow("history loaded", "conversation_id", conversationID, "turns", len(res.Turns), "answered", res.Answered, "ended", res.Ended)
	return res, nil
}

// fetchAll walks the pages newest first and returns messages oldest first.
func (l *Loader) fetchAll(ctx context.Context, conversationID string) ([]agentapi.Message, error) {
	size := l.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	var pages [][]agentapi.Message
	total := 0
	firstID := ""
	for i := 0; i < maxPages; i++ {
		page, err := l.Source.Messages(ctx, conversationID, firstID, size)
		if err != nil {
			return nil, err
		}
		if len(page.Data) == 0 {
			break
		}
		pages = append(pages, page.Data)
		total += len(page.Data)
		next := page.Data[0].ID
		if !page.HasMore || next == "" || next == firstID {
			break
		}
		firstID = next
	}
	out := make([]agentapi.Message, 0, total)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out, nil
}

func (l *Loader) turn(conversationID string, m agentapi.Message) conversation.Turn {
	t := conversation.Turn{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Query:          m.Query,
		Answer:         m.Answer,
		Status:         conversation.StatusNormal,
		Resources:      protocol.Resources(m.RetrieverResources),
	}
	if t.ConversationID == "" {
		t.ConversationID = conversationID
	}
	if m.Feedback != nil {
		t.Feedback = m.Feedback.Rating
	}
	if m.CreatedAt > 0 {
		t.CreatedAt = time.Unix(m.CreatedAt, 0)
	}
	if strings.EqualFold(m.Status, "error") || l.transient(m.Answer) {
		t.Status = conversation.StatusError
	}
	return t
}

func (l *Loader) transient(answer string) bool {
	lower := strings.ToLower(answer)
	for _, p := range l.TransientPhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
