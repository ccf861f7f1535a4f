package conversation

import (
	"testing"
	"time"
)

func TestConversation_SingleInFlightTurn(t *testing.T) {
	var c Conversation
	now := time.Now()
	if !c.Begin("tmp-1", "hello", now) {
		t.Fatalf("expected first turn to begin")
	}
	if c.Begin("tmp-2", "again", now) {
		t.Fatalf("expected second concurrent turn to be refused")
	}
	cur, ok := c.Current()
	if !ok || !cur.IsStreaming || !cur.HasTemporaryID() {
		t.Fatalf("unexpected current turn %+v", cur)
	}
}

func TestConversation_IDIsSetOnce(t *testing.T) {
	var c Conversation
	c.Begin("tmp", "q", time.Now())
	if !c.SetID("conv-1") {
		t.Fatalf("expected id to be set")
	}
	if c.SetID("conv-2") {
		t.Fatalf("expected a different id to be refused")
	}
	if c.SetID("") {
		t.Fatalf("empty id must never be set")
	}
	if c.ID() != "conv-1" {
		t.Fatalf("id changed to %q", c.ID())
	}
	cur, _ := c.Current()
	if cur.ConversationID != "conv-1" {
		t.Fatalf("expected in-flight turn to adopt the id")
	}
}

func TestConversation_AssignIDReplacesTemporaryOnce(t *testing.T) {
	var c Conversation
	c.Begin("tmp", "q", time.Now())
	c.AssignID("msg-1")
	c.AssignID("msg-2")
	cur, _ := c.Current()
	if cur.ID != "msg-1" || cur.HasTemporaryID() {
		t.Fatalf("expected server id msg-1, got %+v", cur)
	}
}

func TestConversation_IndexCountsOnlyAnsweredTurns(t *testing.T) {
	var c Conversation
	for i := 0; i < 3; i++ {
		c.Begin("tmp", "q", time.Now())
		c.Update(func(t *Turn) { t.Answer = "a" })
		c.Finish()
		c.Begin("tmp", "q", time.Now())
		c.Fail("sorry")
	}
	if c.QuestionIndex() != 3 {
		t.Fatalf("expected index 3, got %d", c.QuestionIndex())
	}
	h := c.History()
	if len(h) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(h))
	}
	if h[1].Status != StatusError || h[1].Answer != "sorry" || h[1].IsStreaming {
		t.Fatalf("unexpected error turn %+v", h[1])
	}
	if c.InFlight() {
		t.Fatalf("expected no turn in flight")
	}
}

func TestConversation_PreferredText(t *testing.T) {
	turn := Turn{Answer: "full answer"}
	if turn.PreferredText() != "full answer" {
		t.Fatalf("expected answer fallback")
	}
	turn.AuxiliaryText = "spoken"
	if turn.PreferredText() != "spoken" {
		t.Fatalf("expected auxiliary text preference")
	}
}

func TestConversation_ResetAndComplete(t *testing.T) {
	var c Conversation
	c.Complete()
	c.Reset("conv-9", []Turn{{ID: "m1", Answer: "a"}}, 1)
	if c.TaskCompleted() || c.ID() != "conv-9" || c.QuestionIndex() != 1 || len(c.History()) != 1 {
		t.Fatalf("unexpected state after reset")
	}
	if !c.Complete() || c.Complete() {
		t.Fatalf("expected Complete to report the change exactly once")
	}
}

func TestConversation_RecordDefaults(t *testing.T) {
	var c Conversation
	c.Record(Turn{ID: "x", Query: "next question"})
	h := c.History()
	if h[0].Status != StatusNormal || h[0].Resources == nil || c.QuestionIndex() != 1 {
		t.Fatalf("unexpected recorded turn %+v", h[0])
	}
}
