// Package conversation holds the turn and conversation records shared by the
// orchestrator, history resumption and the journal.
package conversation

import (
	"strings"
	"time"
)

// Status of a completed turn.
type Status string

const (
	StatusNormal Status = "normal"
	StatusError  Status = "error"
)

// Resource is a retrieved knowledge snippet attached to an answer.
type Resource struct {
	DatasetName  string  `json:"dataset_name,omitempty"`
	DocumentName string  `json:"document_name,omitempty"`
	Content      string  `json:"content,omitempty"`
	Score        float64 `json:"score,omitempty"`
}

// Turn is one query/answer exchange.
type Turn struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Query          string     `json:"query"`
	Answer         string     `json:"answer"`
	AuxiliaryText  string     `json:"auxiliary_text,omitempty"`
	IsStreaming    bool       `json:"is_streaming"`
	Status         Status     `json:"status"`
	Feedback       string     `json:"feedback"`
	Resources      []Resource `json:"resources"`
	CreatedAt      time.Time  `json:"created_at"`

	// temporaryID is true until the server assigned a message id.
	temporaryID bool
}

// PreferredText is the text used for speech and completion signalling:
// the auxiliary text when present, the accumulated answer otherwise.
func (t Turn) PreferredText() string {
	if strings.TrimSpace(t.AuxiliaryText) != "" {
		return t.AuxiliaryText
	}
	return t.Answer
}

// HasTemporaryID reports whether the id is still the client-generated one.
func (t Turn) HasTemporaryID() bool { return t.temporaryID }

// Conversation is the state of one conversation.
//
// At most one turn is in flight, the id is set once, and the question index
// only moves forward. Reset is the only way to start over.
type Conversation struct {
	id            string
	history       []Turn
	current       *Turn
	questionIndex int
	taskCompleted bool
}

// ID returns the conversation id, "" until the server reported one.
func (c *Conversation) ID() string { return c.id }

// SetID sets the conversation id once. It reports whether id is now the
// conversation's id; a different id after the first is refused.
func (c *Conversation) SetID(id string) (set bool) {
	if id == "" {
		return false
	}
	if c.id == "" {
		c.id = id
		if c.current != nil && c.current.ConversationID == "" {
			c.current.ConversationID = id
		}
		return true
	}
	return false
}

// History returns a copy of the completed turns in chronological order.
func (c *Conversation) History() []Turn {
	out := make([]Turn, len(c.history))
	copy(out, c.history)
	return out
}

// Current returns a copy of the in-flight turn.
func (c *Conversation) Current() (Turn, bool) {
	if c.current == nil {
		return Turn{}, false
	}
	return *c.current, true
}

// InFlight reports whether a turn is streaming.
func (c *Conversation) InFlight() bool { return c.current != nil }

// QuestionIndex is the number of answered turns.
func (c *Conversation) QuestionIndex() int { return c.questionIndex }

// TaskCompleted reports the terminal flag.
func (c *Conversation) TaskCompleted() bool { return c.taskCompleted }

// Complete sets the terminal flag. It reports whether the flag changed.
func (c *Conversation) Complete() bool {
	if c.taskCompleted {
		return false
	}
	c.taskCompleted = true
	return true
}

// Begin starts a streaming turn with a temporary id. It returns false when a
// turn is already in flight.
func (c *Conversation) Begin(tempID, query string, now time.Time) bool {
	if c.current != nil {
		return false
	}
	c.current = &Turn{
		ID:             tempID,
		ConversationID: c.id,
		Query:          query,
		IsStreaming:    true,
		Status:         StatusNormal,
		Resources:      []Resource{},
		CreatedAt:      now,
		temporaryID:    true,
	}
	return true
}

// Update applies fn to the in-flight turn. It is a no-op without one.
func (c *Conversation) Update(fn func(t *Turn)) {
	if c.current == nil {
		return
	}
	fn(c.current)
}

// AssignID replaces the temporary id of the in-flight turn with the server id.
func (c *Conversation) AssignID(id string) {
	if c.current == nil || id == "" || !c.current.temporaryID {
		return
	}
	c.current.ID = id
	c.current.temporaryID = false
}

// Finish moves the in-flight turn into the history and advances the index.
func (c *Conversation) Finish() (Turn, bool) {
	if c.current == nil {
		return Turn{}, false
	}
	t := *c.current
	t.IsStreaming = false
	t.Status = StatusNormal
	c.current = nil
	c.history = append(c.history, t)
	c.questionIndex++
	return t, true
}

// Fail moves the in-flight turn into the history as an error turn carrying
// answer. The index does not advance.
func (c *Conversation) Fail(answer string) (Turn, bool) {
	if c.current == nil {
		return Turn{}, false
	}
	t := *c.current
	t.IsStreaming = false
	t.Status = StatusError
	t.Answer = answer
	c.current = nil
	c.history = append(c.history, t)
	return t, true
}

// Record appends an already complete turn without streaming it.
func (c *Conversation) Record(t Turn) {
	t.IsStreaming = false
	if t.Status == "" {
		t.Status = StatusNormal
	}
	if t.Resources == nil {
		t.Resources = []Resource{}
	}
	c.history = append(c.history, t)
	if t.Status == StatusNormal {
		c.questionIndex++
	}
}

// Reset replaces the whole state for a conversation switch.
func (c *Conversation) Reset(id string, turns []Turn, answered int) {
	*c = Conversation{id: id}
	c.history = append(c.history, turns...)
	c.questionIndex = answered
}
