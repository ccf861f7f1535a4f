package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParser_BuffersPartialLines(t *testing.T) {
	p := NewParser(nil)
	if evs := p.Feed([]byte(`data: {"event":"message","ans`)); len(evs) != 0 {
		t.Fatalf("expected no events for a partial line, got %d", len(evs))
	}
	evs := p.Feed([]byte("wer\":\"Hi\"}\n\ndata: {\"event\":\"message\",\"answer\":\" there\"}\n"))
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Answer != "Hi" || evs[1].Answer != " there" {
		t.Fatalf("unexpected answers %q %q", evs[0].Answer, evs[1].Answer)
	}
	if string(evs[0].Raw) == "" {
		t.Fatalf("expected raw payload to be kept")
	}
}

func TestParser_DropsMalformedRecords(t *testing.T) {
	p := NewParser(nil)
	evs := p.Feed([]byte("data: {not json}\ndata: {\"event\":\"message_end\",\"message_id\":\"m1\"}\n"))
	if len(evs) != 1 || evs[0].Event != "message_end" || evs[0].MessageID != "m1" {
		t.Fatalf("expected only the valid record, got %+v", evs)
	}
}

func TestParser_IgnoresNonDataLines(t *testing.T) {
	p := NewParser(nil)
	in := ": keep-alive\nid: 7\nretry: 100\r\ndata: [DONE]\ndata:\n\n"
	if evs := p.Feed([]byte(in)); len(evs) != 0 {
		t.Fatalf("expected nothing, got %+v", evs)
	}
}

func TestParser_EventFieldTagsUntaggedRecord(t *testing.T) {
	p := NewParser(nil)
	evs := p.Feed([]byte("event: ping\ndata: {\"answer\":\"x\"}\n\ndata: {\"answer\":\"y\"}\n"))
	if len(evs) != 1 {
		t.Fatalf("expected the untagged record after the separator to be dropped, got %d", len(evs))
	}
	if evs[0].Event != "ping" {
		t.Fatalf("expected tag from event field, got %q", evs[0].Event)
	}
}

func TestParser_FlushParsesTrailingLine(t *testing.T) {
	p := NewParser(nil)
	p.Feed([]byte(`data: {"event":"message","answer":"tail"}`))
	evs := p.Flush()
	if len(evs) != 1 || evs[0].Answer != "tail" {
		t.Fatalf("expected trailing record, got %+v", evs)
	}
	if evs := p.Flush(); evs != nil {
		t.Fatalf("expected flush to be empty the second time")
	}
}

func TestParser_NodeOutputs(t *testing.T) {
	p := NewParser(nil)
	evs := p.Feed([]byte(`data: {"event":"node_finished","data":{"title":"LLMText","outputs":{"text":"spoken","n":3}}}` + "\n"))
	if len(evs) != 1 {
		t.Fatalf("expected one event")
	}
	if got := evs[0].OutputText("text"); got != "spoken" {
		t.Fatalf("OutputText = %q", got)
	}
	if got := evs[0].OutputText("n"); got != "" {
		t.Fatalf("non-string output should read as empty, got %q", got)
	}
}

// chunkReader returns one chunk per Read call, then err.
type chunkReader struct {
	chunks []string
	err    error
}

func (c *chunkReader) Read(b []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, c.err
	}
	n := copy(b, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, events <-chan Event, errCh <-chan error) ([]Event, error) {
	t.Helper()
	var out []Event
	var streamErr error
	timeout := time.After(time.Second)
	for events != nil || errCh != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			out = append(out, ev)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			streamErr = err
		case <-timeout:
			t.Fatalf("timeout draining stream")
		}
	}
	return out, streamErr
}

func TestStream_OrderAndEOF(t *testing.T) {
	r := &chunkReader{
		chunks: []string{
			"data: {\"event\":\"message\",\"answer\":\"Hi\",\"conversation_id\":\"c1\"}\n",
			"data: {\"event\":\"message\",\"ans",
			"wer\":\" there\"}\n",
			"data: {\"event\":\"message_end\",\"message_id\":\"m1\"}",
		},
		err: io.EOF,
	}
	events, errs := Stream(context.Background(), r, nil)
	evs, err := collect(t, events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	var b strings.Builder
	for _, ev := range evs[:2] {
		b.WriteString(ev.Answer)
	}
	if b.String() != "Hi there" || evs[2].Event != "message_end" {
		t.Fatalf("unexpected sequence %+v", evs)
	}
}

func TestStream_TransportErrorStopsEvents(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkReader{
		chunks: []string{"data: {\"event\":\"message\",\"answer\":\"a\"}\n", "data: {\"event\":\"message\",\"answer\":\"partial"},
		err:    boom,
	}
	events, errs := Stream(context.Background(), r, nil)
	evs, err := collect(t, events, errs)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected the partial record to be discarded, got %d events", len(evs))
	}
}

type blockingReader struct{ release chan struct{} }

func (b blockingReader) Read(p []byte) (int, error) {
	<-b.release
	return 0, io.ErrClosedPipe
}

func TestStream_CancelClosesWithoutError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	br := blockingReader{release: make(chan struct{})}
	events, errCh := Stream(ctx, br, nil)
	cancel()
	close(br.release)
	evs, err := collect(t, events, errCh)
	if err != nil || len(evs) != 0 {
		t.Fatalf("expected silent close after cancel, got %v %d", err, len(evs))
	}
}
