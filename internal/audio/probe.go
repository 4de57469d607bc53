package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
	"github.com/tcolgate/mp3"
)

var (
	ErrEmpty    = errors.New("audio data is empty")
	ErrNotAudio = errors.New("only audio files are allowed")
)

// Info describes an uploaded clip. DurationKnown is false when the format
// could not be decoded; callers decide how strict to be about that.
type Info struct {
	MIME          string
	Extension     string
	Size          int
	Duration      time.Duration
	DurationKnown bool
}

// sniffAliases maps container types mimetype reports outside audio/* to the
// audio type browsers declare for the same recordings.
var sniffAliases = map[string]string{
	"video/webm":      "audio/webm",
	"application/ogg": "audio/ogg",
	"video/ogg":       "audio/ogg",
	"video/mp4":       "audio/mp4",
}

var extTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

// Probe sniffs the content type and measures duration for WAV and MP3.
func Probe(name string, data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}

	info := Info{Size: len(data)}
	mt := mimetype.Detect(data)
	info.MIME = normalizeSniffed(mt.String())
	info.Extension = mt.Extension()
	if !strings.HasPrefix(info.MIME, "audio/") {
		ext := strings.ToLower(filepath.Ext(name))
		if t, ok := extTypes[ext]; ok {
			info.MIME = t
			info.Extension = ext
		}
	}

	var (
		d   time.Duration
		err error
	)
	switch info.MIME {
	case "audio/wav", "audio/x-wav", "audio/wave":
		d, err = wavDuration(data)
	case "audio/mpeg", "audio/mp3":
		d, err = mp3Duration(data)
	default:
		return info, nil
	}
	if err == nil && d > 0 {
		info.Duration = d
		info.DurationKnown = true
	}
	return info, nil
}

// CheckMIME accepts a declared audio/* type. An empty or generic declaration
// falls back to sniffing the bytes.
func CheckMIME(declared string, data []byte) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if strings.HasPrefix(declared, "audio/") {
		return declared, nil
	}
	if declared != "" && declared != "application/octet-stream" {
		return "", ErrNotAudio
	}
	if len(data) == 0 {
		return "", ErrNotAudio
	}
	sniffed := normalizeSniffed(mimetype.Detect(data).String())
	if !strings.HasPrefix(sniffed, "audio/") {
		return "", ErrNotAudio
	}
	return sniffed, nil
}

func normalizeSniffed(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	if alias, ok := sniffAliases[t]; ok {
		return alias
	}
	return t
}

func wavDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid wav file: %w", err)
	}
	return d, nil
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			if total > 0 {
				break
			}
			return 0, fmt.Errorf("failed to decode mp3 frame: %w", err)
		}
		total += frame.Duration()
	}
	return total, nil
}
