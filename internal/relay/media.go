package relay

import (
	"context"
	"time"

	"github.com/chadiek/interview-agent/internal/capture"
)

// callTimeout bounds browser calls that have no context of their own.
const callTimeout = 15 * time.Second

// Device opens capture streams in the browser. It implements capture.Device.
type Device struct {
	peer *Peer
}

// Open asks the browser for getUserMedia. A refusal comes back as a
// BrowserError named after the DOMException, which capture.Classify maps.
func (d *Device) Open(ctx context.Context, mode capture.Mode) (capture.Stream, error) {
	if _, err := d.peer.call(ctx, message{Type: "open_device", Mode: string(mode)}); err != nil {
		return nil, err
	}
	return &stream{peer: d.peer}, nil
}

type stream struct {
	peer *Peer
}

func (s *stream) NewRecorder(opts capture.RecorderOptions) (capture.Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	r, err := s.peer.call(ctx, message{Type: "new_recorder", MIME: opts.MIMEType})
	if err != nil {
		return nil, err
	}
	mime := r.MIME
	if mime == "" {
		mime = opts.MIMEType
	}
	return &recorder{peer: s.peer, mime: mime}, nil
}

func (s *stream) Release() {
	s.peer.send(message{Type: "release"})
}

type recorder struct {
	peer *Peer
	mime string
}

func (r *recorder) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	_, err := r.peer.call(ctx, message{Type: "record_start"})
	return err
}

// Stop waits for the browser to hand over the assembled blob.
func (r *recorder) Stop() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	res, err := r.peer.call(ctx, message{Type: "record_stop"})
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (r *recorder) MIMEType() string { return r.mime }

// Player plays audio URLs in the browser. It implements playback.Player.
type Player struct {
	peer *Peer
}

// Play returns once the browser reports the clip ended. Cancelling ctx
// tells the browser to stop.
func (p *Player) Play(ctx context.Context, url string) error {
	_, err := p.peer.call(ctx, message{Type: "play_audio", URL: url})
	if ctx.Err() != nil {
		p.peer.send(message{Type: "stop_audio"})
	}
	return err
}
