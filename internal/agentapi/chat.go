package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chadiek/interview-agent/internal/sse"
)

// ChatRequest opens one streamed answer.
type ChatRequest struct {
	Query          string         `json:"query"`
	ConversationID string         `json:"conversation_id"`
	Inputs         map[string]any `json:"inputs"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	// Files reference uploaded captures the answer refers to.
	Files []ChatFile `json:"files,omitempty"`
}

// ChatFile references an uploaded object.
type ChatFile struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	CosKey         string `json:"cos_key"`
}

// Chat posts req to /chat-messages and streams the answer events. Failures to
// open the stream, non-2xx statuses and read errors arrive on the error
// channel; both channels close when the server ends the stream.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (<-chan sse.Event, <-chan error) {
	events := make(chan sse.Event, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		if err := c.Check(); err != nil {
			errCh <- err
			return
		}
		if req.Inputs == nil {
			req.Inputs = map[string]any{}
		}
		req.ResponseMode = "streaming"
		if req.User == "" {
			req.User = c.User
		}
		body, err := json.Marshal(req)
		if err != nil {
			errCh <- err
			return
		}
		httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat-messages", nil, bytes.NewReader(body), "application/json")
		if err != nil {
			errCh <- err
			return
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		res, err := c.streamClient().Do(httpReq)
		if err != nil {
			if ctx.Err() == nil {
				errCh <- fmt.Errorf("open chat stream: %w", err)
			}
			return
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			errCh <- &APIError{Status: res.StatusCode, Message: messageFrom(raw)}
			return
		}
		c.log().Debugw("chat stream opened", "conversation_id", req.ConversationID)

		evs, errs := sse.Stream(ctx, res.Body, c.Log)
		for ev := range evs {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := <-errs; err != nil {
			errCh <- err
		}
	}()

	return events, errCh
}
