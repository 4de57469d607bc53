package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrTranscoderUnavailable = errors.New("ffmpeg binary not found")

// Transcoder converts clips to MP3 by piping them through ffmpeg.
type Transcoder struct {
	binary  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewTranscoder(binary string, timeout time.Duration, logger *zap.Logger) *Transcoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcoder{binary: binary, timeout: timeout, logger: logger}
}

func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.binary)
	return err == nil
}

func (t *Transcoder) ToMP3(ctx context.Context, in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, ErrEmpty
	}
	path, err := exec.LookPath(t.binary)
	if err != nil {
		return nil, ErrTranscoderUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-vn", "-codec:a", "libmp3lame", "-q:a", "4",
		"-f", "mp3", "pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}

	t.logger.Debug("Transcoded audio to mp3",
		zap.Int("input_bytes", len(in)),
		zap.Int("output_bytes", stdout.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return stdout.Bytes(), nil
}

// ToMP3OrOriginal returns the original bytes and type when transcoding fails.
func (t *Transcoder) ToMP3OrOriginal(ctx context.Context, in []byte, mimeType string) ([]byte, string) {
	out, err := t.ToMP3(ctx, in)
	if err != nil {
		t.logger.Warn("Audio transcoding failed, using original file", zap.Error(err))
		return in, mimeType
	}
	return out, "audio/mpeg"
}
