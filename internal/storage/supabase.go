// Package storage uploads captured answers to Supabase Storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/capture"
	"github.com/chadiek/interview-agent/internal/logging"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
	// Prefix is prepended to every object key.
	Prefix string
}

// Supabase implements capture.Uploader on a storage bucket.
type Supabase struct {
	put    func(key string, r io.Reader) error
	prefix string
	log    *zap.SugaredLogger
}

// New builds the Supabase client.
func New(cfg Config, log *zap.SugaredLogger) (*Supabase, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_BUCKET required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create Supabase client: %w", err)
	}
	put := func(key string, r io.Reader) error {
		_, err := client.Storage.UploadFile(cfg.Bucket, key, r)
		return err
	}
	return newSupabase(put, cfg.Prefix, log), nil
}

func newSupabase(put func(string, io.Reader) error, prefix string, log *zap.SugaredLogger) *Supabase {
	if prefix == "" {
		prefix = "interviews"
	}
	return &Supabase{put: put, prefix: prefix, log: logging.OrNop(log)}
}

// ObjectKey names the object for one answer.
func (s *Supabase) ObjectKey(blob capture.Blob, meta capture.UploadMeta) string {
	conv := meta.ConversationID
	if conv == "" {
		conv = "pending"
	}
	name := fmt.Sprintf("%03d-%s.%s", meta.QuestionIndex, uuid.NewString(), blob.Ext())
	return path.Join(s.prefix, conv, name)
}

// Upload stores blob and reports its key.
func (s *Supabase) Upload(ctx context.Context, blob capture.Blob, meta capture.UploadMeta) (capture.UploadedFile, error) {
	if blob.Size() == 0 {
		return capture.UploadedFile{}, fmt.Errorf("refusing to upload an empty capture")
	}
	if err := ctx.Err(); err != nil {
		return capture.UploadedFile{}, err
	}
	key := s.ObjectKey(blob, meta)
	if err := s.put(key, bytes.NewReader(blob.Data)); err != nil {
		return capture.UploadedFile{}, fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	s.log.Infow("capture stored", "key", key, "bytes", blob.Size(), "tags", meta.Tags)
	return capture.UploadedFile{
		CosKey:   key,
		FileName: path.Base(key),
		FileSize: blob.Size(),
		Ext:      blob.Ext(),
	}, nil
}
