package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	MinDuration = 20 * time.Second
	MaxDuration = 90 * time.Second
)

var (
	ErrTooShort        = errors.New("audio is too short")
	ErrTooLong         = errors.New("audio is too long")
	ErrUnknownDuration = errors.New("audio duration could not be determined")
)

type Limits struct {
	Min time.Duration
	Max time.Duration
}

func DefaultLimits() Limits {
	return Limits{Min: MinDuration, Max: MaxDuration}
}

// Validate rounds d to whole seconds and checks it against the bounds.
func (l Limits) Validate(d time.Duration) error {
	secs := int(math.Round(d.Seconds()))
	minSecs := int(l.Min / time.Second)
	maxSecs := int(l.Max / time.Second)
	if secs < minSecs {
		return fmt.Errorf("%w: please provide audio that is at least %d seconds long (got %d seconds)", ErrTooShort, minSecs, secs)
	}
	if secs > maxSecs {
		return fmt.Errorf("%w: please provide audio that is no longer than %d seconds (%s), got %d seconds",
			ErrTooLong, maxSecs, FormatClock(maxSecs), secs)
	}
	return nil
}

// ValidateInfo is strict about unknown durations.
func (l Limits) ValidateInfo(info Info) error {
	if !info.DurationKnown {
		return ErrUnknownDuration
	}
	return l.Validate(info.Duration)
}

func ValidateDuration(d time.Duration) error {
	return DefaultLimits().Validate(d)
}

// FormatClock renders seconds as m:ss.
func FormatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
