package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

// pcmWAV builds an 8 kHz mono 8-bit PCM clip of the given length.
func pcmWAV(seconds int) []byte {
	const rate = 8000
	dataLen := rate * seconds
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], rate)
	binary.LittleEndian.PutUint32(buf[28:], rate)
	binary.LittleEndian.PutUint16(buf[32:], 1)
	binary.LittleEndian.PutUint16(buf[34:], 8)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	for i := 44; i < len(buf); i++ {
		buf[i] = 128
	}
	return buf
}

func TestProbeWAVDuration(t *testing.T) {
	info, err := Probe("answer.wav", pcmWAV(25))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.MIME != "audio/wav" {
		t.Errorf("Expected audio/wav, got %s", info.MIME)
	}
	if !info.DurationKnown || info.Duration.Round(time.Second) != 25*time.Second {
		t.Errorf("Expected 25s duration, got %v (known=%v)", info.Duration, info.DurationKnown)
	}
}

func TestProbeUnknownFormat(t *testing.T) {
	info, err := Probe("notes.txt", []byte("just some text, not audio"))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if info.DurationKnown {
		t.Error("Text should not have a known duration")
	}
	if _, err := Probe("empty.wav", nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
}

func TestCheckMIME(t *testing.T) {
	if got, err := CheckMIME("audio/webm;codecs=opus", nil); err != nil || got != "audio/webm" {
		t.Errorf("Expected audio/webm, got %q, %v", got, err)
	}
	if _, err := CheckMIME("image/png", pcmWAV(1)); !errors.Is(err, ErrNotAudio) {
		t.Errorf("Declared non-audio type must be rejected, got %v", err)
	}
	if got, err := CheckMIME("application/octet-stream", pcmWAV(1)); err != nil || got != "audio/wav" {
		t.Errorf("Expected sniffed audio/wav, got %q, %v", got, err)
	}
	if _, err := CheckMIME("", []byte("%PDF-1.4")); !errors.Is(err, ErrNotAudio) {
		t.Errorf("Sniffed non-audio must be rejected, got %v", err)
	}
}

func TestValidateDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want error
	}{
		{19 * time.Second, ErrTooShort},
		{19600 * time.Millisecond, nil},
		{20 * time.Second, nil},
		{90 * time.Second, nil},
		{90400 * time.Millisecond, nil},
		{91 * time.Second, ErrTooLong},
	}
	for _, tt := range tests {
		err := ValidateDuration(tt.d)
		if !errors.Is(err, tt.want) {
			t.Errorf("ValidateDuration(%v) = %v, want %v", tt.d, err, tt.want)
		}
	}
}

func TestValidateInfoRejectsUnknown(t *testing.T) {
	if err := DefaultLimits().ValidateInfo(Info{}); !errors.Is(err, ErrUnknownDuration) {
		t.Errorf("Expected ErrUnknownDuration, got %v", err)
	}
}

func TestTranscoderMissingBinaryFallsBack(t *testing.T) {
	tr := NewTranscoder("definitely-not-ffmpeg-binary", time.Second, nil)
	if tr.Available() {
		t.Skip("unexpected binary on PATH")
	}
	if _, err := tr.ToMP3(context.Background(), []byte("x")); !errors.Is(err, ErrTranscoderUnavailable) {
		t.Errorf("Expected ErrTranscoderUnavailable, got %v", err)
	}

	in := pcmWAV(1)
	out, mimeType := tr.ToMP3OrOriginal(context.Background(), in, "audio/wav")
	if len(out) != len(in) || mimeType != "audio/wav" {
		t.Errorf("Expected original bytes and type on failure, got %d bytes %s", len(out), mimeType)
	}
}

func TestFormatClock(t *testing.T) {
	if got := FormatClock(90); got != "1:30" {
		t.Errorf("Expected 1:30, got %s", got)
	}
}
