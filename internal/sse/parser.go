package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/logging"
)

const readChunkSize = 4096

var dataPrefix = []byte("data:")

// Parser reassembles records from arbitrarily split chunks.
// It is not safe for concurrent use.
type Parser struct {
	log *zap.SugaredLogger
	buf []byte
	// tag from an "event:" field line, applied to the next record lacking its own
	tag string
}

// NewParser returns a parser that logs dropped records to log.
func NewParser(log *zap.SugaredLogger) *Parser {
	return &Parser{log: logging.OrNop(log)}
}

// Feed appends a chunk and returns every event completed by it.
// A line is only parsed once its terminating newline has arrived.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)
	var out []Event
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		if ev, ok := p.parseLine(line); ok {
			out = append(out, ev)
		}
		p.buf = p.buf[i+1:]
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush parses a trailing line left without a newline when the transport ended.
func (p *Parser) Flush() []Event {
	if len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil
	if ev, ok := p.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

func (p *Parser) parseLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r")
	switch {
	case len(bytes.TrimSpace(line)) == 0:
		// record separator
		p.tag = ""
		return Event{}, false
	case line[0] == ':':
		return Event{}, false
	case bytes.HasPrefix(line, []byte("event:")):
		p.tag = string(bytes.TrimSpace(line[len("event:"):]))
		return Event{}, false
	case !bytes.HasPrefix(line, dataPrefix):
		return Event{}, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		p.log.Warnw("dropping malformed stream record", "error", err, "record", preview(payload))
		return Event{}, false
	}
	if ev.Event == "" {
		ev.Event = p.tag
	}
	if ev.Event == "" {
		p.log.Warnw("dropping stream record without event tag", "record", preview(payload))
		return Event{}, false
	}
	ev.Raw = append(json.RawMessage(nil), payload...)
	return ev, true
}

func preview(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// Stream reads r until it ends and emits parsed events in arrival order.
// The error channel receives at most one transport error. Both channels are
// closed when r ends, fails, or ctx is cancelled; after a failure no further
// events are sent.
func Stream(ctx context.Context, r io.Reader, log *zap.SugaredLogger) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		p := NewParser(log)
		emit := func(evs []Event) bool {
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		buf := make([]byte, readChunkSize)
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				if !emit(p.Feed(buf[:n])) {
					return
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					emit(p.Flush())
					return
				}
				if ctx.Err() != nil {
					return
				}
				errCh <- fmt.Errorf("read stream: %w", rerr)
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return events, errCh
}
