package agentapi

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/playback"
)

// Transcribe asks the server to transcribe an uploaded capture.
func (c *Client) Transcribe(ctx context.Context, file capture.UploadedFile) (string, error) {
	if err := c.Check(); err != nil {
		return "", err
	}
	if file.CosKey == "" {
		return "", fmt.Errorf("transcribe: object key required")
	}
	payload := map[string]any{
		"user":      c.User,
		"cos_key":   file.CosKey,
		"file_name": file.FileName,
		"ext":       file.Ext,
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/audio-to-text", nil, payload, &out); err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Synthesize implements playback.Synthesizer with the server's speech
// endpoint. The returned URL is remote so there is nothing to release.
func (c *Client) Synthesize(ctx context.Context, text string) (playback.Audio, error) {
	if err := c.Check(); err != nil {
		return playback.Audio{}, err
	}
	var out struct {
		URL      string `json:"url"`
		AudioURL string `json:"audio_url"`
	}
	payload := map[string]any{"user": c.User, "text": text}
	if err := c.doJSON(ctx, http.MethodPost, "/text-to-audio", nil, payload, &out); err != nil {
		return playback.Audio{}, fmt.Errorf("synthesize: %w", err)
	}
	u := out.URL
	if u == "" {
		u = out.AudioURL
	}
	return playback.Audio{URL: u}, nil
}

// Upload implements capture.Uploader with a multipart /files/upload request.
func (c *Client) Upload(ctx context.Context, blob capture.Blob, meta capture.UploadMeta) (capture.UploadedFile, error) {
	if err := c.Check(); err != nil {
		return capture.UploadedFile{}, err
	}
	if blob.Size() == 0 {
		return capture.UploadedFile{}, fmt.Errorf("upload: empty capture")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"user":            c.User,
		"conversation_id": meta.ConversationID,
		"question_index":  strconv.Itoa(meta.QuestionIndex),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return capture.UploadedFile{}, err
		}
	}
	for _, tag := range meta.Tags {
		if err := mw.WriteField("tags", tag); err != nil {
			return capture.UploadedFile{}, err
		}
	}
	h := make(textproto.MIMEHeader)
	name := fmt.Sprintf("answer-%d.%s", meta.QuestionIndex, blob.Ext())
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	contentType := blob.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return capture.UploadedFile{}, err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return capture.UploadedFile{}, err
	}
	if err := mw.Close(); err != nil {
		return capture.UploadedFile{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/files/upload", nil, &body, mw.FormDataContentType())
	if err != nil {
		return capture.UploadedFile{}, err
	}
	var file capture.UploadedFile
	if err := c.do(req, &file); err != nil {
		return capture.UploadedFile{}, fmt.Errorf("upload: %w", err)
	}
	if file.CosKey == "" {
		return capture.UploadedFile{}, fmt.Errorf("upload: response without object key")
	}
	return file, nil
}
