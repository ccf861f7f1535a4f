// Package tts synthesizes interviewer speech with Deepgram's speak websocket.
package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chadiek/interview-agent/internal/logging"
	"github.com/chadiek/interview-agent/internal/playback"
)

const defaultModel = "aura-2-thalia-en"

// Deepgram streams linear16 PCM for a text and assembles it into a WAV file.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	dir        string
	log        *zap.SugaredLogger

	// IdleWindow ends a synthesis once audio stopped arriving for this long.
	IdleWindow time.Duration
	// Deadline bounds one synthesis.
	Deadline time.Duration
}

// NewDeepgram returns a synthesizer writing clips into dir (os.TempDir when empty).
func NewDeepgram(apiKey, model, dir string, log *zap.SugaredLogger) *Deepgram {
	if model == "" {
		model = defaultModel
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 24000,
		encoding:   "linear16",
		dir:        dir,
		log:        logging.OrNop(log),
		IdleWindow: 400 * time.Millisecond,
		Deadline:   20 * time.Second,
	}
}

// Synthesize writes the speech for text to a WAV file. Releasing the audio
// removes the file.
func (d *Deepgram) Synthesize(ctx context.Context, text string) (playback.Audio, error) {
	pcmCh, errCh := d.StreamPCM(ctx, text)
	var pcm []byte
	for chunk := range pcmCh {
		pcm = append(pcm, chunk...)
	}
	if err := <-errCh; err != nil {
		return playback.Audio{}, err
	}
	if len(pcm) == 0 {
		return playback.Audio{}, fmt.Errorf("deepgram: no audio for %d characters", len(text))
	}

	path := filepath.Join(d.dir, "speech-"+uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return playback.Audio{}, fmt.Errorf("deepgram: create clip: %w", err)
	}
	if err := writeWAV(f, pcm, d.sampleRate, 1); err != nil {
		f.Close()
		os.Remove(path)
		return playback.Audio{}, fmt.Errorf("deepgram: write clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return playback.Audio{}, fmt.Errorf("deepgram: close clip: %w", err)
	}
	d.log.Debugw("deepgram clip ready", "path", path, "bytes", len(pcm))
	return playback.Audio{URL: path, Release: func() { os.Remove(path) }}, nil
}

// StreamPCM streams raw PCM chunks for text.
func (d *Deepgram) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: API key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32

		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}

		stopped := false
		stopClient := func() {
			if !stopped {
				stopped = true
				dg.Stop()
			}
		}
		defer stopClient()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			d.log.Warnw("deepgram flush failed", "error", err)
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(d.Deadline)
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > d.IdleWindow {
						return
					}
				}
				if time.Now().After(deadline) {
					if atomic.LoadInt32(&seenAudio) == 0 {
						errCh <- fmt.Errorf("deepgram: no audio within %s", d.Deadline)
					}
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
