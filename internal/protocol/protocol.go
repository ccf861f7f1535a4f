// Package protocol classifies agent stream records.
//
// The agent signals auxiliary speech text, task completion and analysis
// failures through workflow node titles. All title matching lives here so the
// turn state machine only ever sees a Kind.
package protocol

import (
	"strings"

	"github.com/chadiek/interview-agent/internal/conversation"
	"github.com/chadiek/interview-agent/internal/sse"
)

// Version identifies the marker contract implemented by DefaultMarkers.
const Version = "2024-06"

// Stream record tags.
const (
	TagMessage      = "message"
	TagAgentMessage = "agent_message"
	TagMessageEnd   = "message_end"
	TagNodeFinished = "node_finished"
	TagError        = "error"
)

// Kind is the meaning of a stream record for the turn state machine.
type Kind int

const (
	KindIgnored Kind = iota
	KindMessage
	KindMessageEnd
	KindAuxiliaryText
	KindTaskEnded
	KindAnalysisFailed
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindMessageEnd:
		return "message_end"
	case KindAuxiliaryText:
		return "auxiliary_text"
	case KindTaskEnded:
		return "task_ended"
	case KindAnalysisFailed:
		return "analysis_failed"
	case KindServerError:
		return "server_error"
	default:
		return "ignored"
	}
}

// Markers holds the node title conventions of one agent deployment.
type Markers struct {
	// AuxiliaryTitle is the exact node title carrying the speech text.
	AuxiliaryTitle string
	// CompletionPhrases mark the node that ends the interview.
	CompletionPhrases []string
	// AnalysisFailedPhrases mark a node whose analysis could not be produced.
	AnalysisFailedPhrases []string
}

// DefaultMarkers returns the titles used by the hosted interview agents.
func DefaultMarkers() Markers {
	return Markers{
		AuxiliaryTitle:        "LLMText",
		CompletionPhrases:     []string{"面试结束", "interview ended"},
		AnalysisFailedPhrases: []string{"分析失败", "analysis failed"},
	}
}

// Classify maps one record onto a Kind.
func (m Markers) Classify(ev sse.Event) Kind {
	switch ev.Event {
	case TagMessage, TagAgentMessage:
		return KindMessage
	case TagMessageEnd:
		return KindMessageEnd
	case TagError:
		return KindServerError
	case TagNodeFinished:
		title := strings.TrimSpace(ev.Data.Title)
		if title == "" {
			return KindIgnored
		}
		if m.AuxiliaryTitle != "" && title == m.AuxiliaryTitle {
			return KindAuxiliaryText
		}
		if containsAny(title, m.CompletionPhrases) {
			return KindTaskEnded
		}
		if containsAny(title, m.AnalysisFailedPhrases) {
			return KindAnalysisFailed
		}
	}
	return KindIgnored
}

// AuxiliaryText extracts the speech text of an auxiliary record.
func AuxiliaryText(ev sse.Event) string {
	if s := ev.OutputText("text"); s != "" {
		return s
	}
	if s := ev.OutputText("answer"); s != "" {
		return s
	}
	return ev.Answer
}

// Resources converts retriever resources, never returning nil.
func Resources(rs []sse.RetrieverResource) []conversation.Resource {
	out := make([]conversation.Resource, 0, len(rs))
	for _, r := range rs {
		out = append(out, conversation.Resource{
			DatasetName:  r.DatasetName,
			DocumentName: r.DocumentName,
			Content:      r.Content,
			Score:        r.Score,
		})
	}
	return out
}

func containsAny(title string, phrases []string) bool {
	lower := strings.ToLower(title)
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
