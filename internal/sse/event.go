// Package sse turns the agent API's "data:" framed answer stream into typed events.
package sse

import "encoding/json"

// Event is one server-sent record of a streaming answer.
type Event struct {
	Event          string   `json:"event"`
	TaskID         string   `json:"task_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Answer         string   `json:"answer,omitempty"`
	Data           NodeData `json:"data"`
	Metadata       Metadata `json:"metadata"`
	// Message and Code are set on "error" records.
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	// Raw is the undecoded record payload.
	Raw json.RawMessage `json:"-"`
}

// NodeData is the payload of workflow node records such as "node_finished".
type NodeData struct {
	ID       string         `json:"id,omitempty"`
	NodeID   string         `json:"node_id,omitempty"`
	NodeType string         `json:"node_type,omitempty"`
	Title    string         `json:"title,omitempty"`
	Status   string         `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// Metadata is attached to "message_end" records.
type Metadata struct {
	RetrieverResources []RetrieverResource `json:"retriever_resources,omitempty"`
}

// RetrieverResource is a knowledge snippet the answer was grounded on.
type RetrieverResource struct {
	Position     int     `json:"position"`
	DatasetID    string  `json:"dataset_id,omitempty"`
	DatasetName  string  `json:"dataset_name,omitempty"`
	DocumentID   string  `json:"document_id,omitempty"`
	DocumentName string  `json:"document_name,omitempty"`
	SegmentID    string  `json:"segment_id,omitempty"`
	Score        float64 `json:"score,omitempty"`
	Content      string  `json:"content,omitempty"`
}

// OutputText returns a string output of a node record, or "".
func (e Event) OutputText(key string) string {
	if e.Data.Outputs == nil {
		return ""
	}
	s, _ := e.Data.Outputs[key].(string)
	return s
}
