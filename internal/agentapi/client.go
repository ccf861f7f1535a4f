// Package agentapi is the client of the remote interview agent: the streaming
// chat endpoint plus the enveloped request/response endpoints around it.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/logging"
)

// ErrNotConfigured is returned before any request when the base URL or the
// user identifier is missing.
var ErrNotConfigured = errors.New("agentapi: base URL and user are required")

// Client talks to the agent API. The zero value needs BaseURL and User.
type Client struct {
	BaseURL string
	APIKey  string
	// User identifies the end user on every request.
	User string
	HTTP *http.Client
	// Stream is used for the long lived chat stream; it must not time out.
	Stream *http.Client
	Log    *zap.SugaredLogger
}

// APIError is a non-successful envelope or HTTP status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agent api: status=%d: %s", e.Status, e.Message)
	}
	return "agent api: " + e.Message
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Check reports ErrNotConfigured when the base URL or user is missing.
func (c *Client) Check() error {
	if strings.TrimSpace(c.BaseURL) == "" || strings.TrimSpace(c.User) == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	return c.HTTP
}

func (c *Client) streamClient() *http.Client {
	if c.Stream != nil {
		return c.Stream
	}
	if c.HTTP != nil && c.HTTP.Timeout == 0 {
		return c.HTTP
	}
	transport := http.DefaultTransport
	if c.HTTP != nil && c.HTTP.Transport != nil {
		transport = c.HTTP.Transport
	}
	c.Stream = &http.Client{Transport: transport}
	return c.Stream
}

func (c *Client) log() *zap.SugaredLogger { return logging.OrNop(c.Log) }

func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// doJSON sends payload (nil for none) and decodes the envelope data into out.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	res, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()
	c.log().Debugw("agent api request", "method", req.Method, "path", req.URL.Path, "status", res.StatusCode, "elapsed", time.Since(start))

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Status: res.StatusCode, Message: messageFrom(raw)}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%s %s: decode envelope: %w", req.Method, req.URL.Path, err)
	}
	if !env.Success {
		if env.Message == "" {
			env.Message = "request failed"
		}
		return &APIError{Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func messageFrom(raw []byte) string {
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		return env.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
