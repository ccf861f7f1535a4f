package playback

import (
	"context"
	"fmt"
	"os/exec"
)

// FFPlayPlayer plays audio on the local output device through ffplay.
type FFPlayPlayer struct {
	// Binary defaults to "ffplay" on PATH.
	Binary string
}

func (p FFPlayPlayer) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "ffplay"
}

// CheckFFPlay reports whether the ffplay binary is available.
func (p FFPlayPlayer) CheckFFPlay() error {
	if _, err := exec.LookPath(p.binary()); err != nil {
		return fmt.Errorf("ffplay not found; install ffmpeg with your package manager")
	}
	return nil
}

// Play blocks until ffplay exits or ctx is cancelled.
func (p FFPlayPlayer) Play(ctx context.Context, url string) error {
	cmd := exec.CommandContext(ctx, p.binary(), "-nodisp", "-autoexit", "-loglevel", "error", url)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffplay: %w\n%s", err, string(out))
	}
	return nil
}
