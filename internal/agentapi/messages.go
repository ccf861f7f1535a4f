package agentapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chadiek/interview-agent/internal/sse"
)

// Message is one historical turn as returned by /messages. Optional fields
// may be missing.
type Message struct {
	ID                 string                  `json:"id"`
	ConversationID     string                  `json:"conversation_id"`
	Query              string                  `json:"query"`
	Answer             string                  `json:"answer"`
	Status             string                  `json:"status,omitempty"`
	Error              string                  `json:"error,omitempty"`
	Feedback           *Feedback               `json:"feedback,omitempty"`
	RetrieverResources []sse.RetrieverResource `json:"retriever_resources,omitempty"`
	CreatedAt          int64                   `json:"created_at"`
}

// Feedback is a rating on a message.
type Feedback struct {
	Rating  string `json:"rating"`
	Content string `json:"content,omitempty"`
}

// MessagesPage is one page of history, newest page first, chronological
// within the page.
type MessagesPage struct {
	Data    []Message `json:"data"`
	HasMore bool      `json:"has_more"`
	Limit   int       `json:"limit"`
}

// Messages fetches the page of conversationID older than firstID ("" for the
// newest page).
func (c *Client) Messages(ctx context.Context, conversationID, firstID string, limit int) (MessagesPage, error) {
	if err := c.Check(); err != nil {
		return MessagesPage{}, err
	}
	if conversationID == "" {
		return MessagesPage{}, fmt.Errorf("messages: conversation id required")
	}
	q := url.Values{}
	q.Set("conversation_id", conversationID)
	q.Set("user", c.User)
	if firstID != "" {
		q.Set("first_id", firstID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page MessagesPage
	if err := c.doJSON(ctx, http.MethodGet, "/messages", q, nil, &page); err != nil {
		return MessagesPage{}, fmt.Errorf("fetch messages: %w", err)
	}
	return page, nil
}

// SessionStatus is the remote state of a conversation.
type SessionStatus struct {
	Status string `json:"status"`
	IsEnd  bool   `json:"is_end"`
}

// Ended reports whether the remote interview session is over.
func (s SessionStatus) Ended() bool {
	if s.IsEnd {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "ended", "end", "finished", "completed", "closed":
		return true
	}
	return false
}

// ConversationStatus fetches the remote session status.
func (c *Client) ConversationStatus(ctx context.Context, conversationID string) (SessionStatus, error) {
	if err := c.Check(); err != nil {
		return SessionStatus{}, err
	}
	q := url.Values{}
	q.Set("user", c.User)
	var st SessionStatus
	path := "/conversations/" + url.PathEscape(conversationID) + "/status"
	if err := c.doJSON(ctx, http.MethodGet, path, q, nil, &st); err != nil {
		return SessionStatus{}, fmt.Errorf("fetch conversation status: %w", err)
	}
	return st, nil
}

// SubmitFeedback rates a message "like" or "dislike"; an empty rating clears it.
func (c *Client) SubmitFeedback(ctx context.Context, messageID, rating, content string) error {
	if err := c.Check(); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("feedback: message id required")
	}
	switch rating {
	case "", "like", "dislike":
	default:
		return fmt.Errorf("feedback: unknown rating %q", rating)
	}
	payload := map[string]any{"user": c.User, "content": content}
	if rating == "" {
		payload["rating"] = nil
	} else {
		payload["rating"] = rating
	}
	path := "/messages/" + url.PathEscape(messageID) + "/feedbacks"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}
