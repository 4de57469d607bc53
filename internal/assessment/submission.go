package assessment

import (
	"errors"
	"fmt"
	"strings"
)

type StudyLevel string

const (
	Level3Units StudyLevel = "3 Units"
	Level4Units StudyLevel = "4 Units"
	Level5Units StudyLevel = "5 Units"
)

var StudyLevels = []StudyLevel{Level3Units, Level4Units, Level5Units}

var PresetQuestions = []string{
	"Talk about your dream vacation.",
	"Tell me about yourself.",
	"Describe your best friend and his hobbies.",
}

var (
	ErrEmptyQuestion = errors.New("please enter a question or select a preset question")
	ErrNoAudio       = errors.New("no audio file provided")
)

// ParseStudyLevel accepts "3 Units", "3units", "3" and similar spellings.
func ParseStudyLevel(s string) (StudyLevel, error) {
	compact := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	compact = strings.TrimSuffix(compact, "units")
	switch compact {
	case "3":
		return Level3Units, nil
	case "4":
		return Level4Units, nil
	case "5":
		return Level5Units, nil
	}
	return "", fmt.Errorf("unknown study level %q (want one of 3, 4, 5 Units)", s)
}

// Submission is everything one assessment request carries. It is built per
// submit and not kept afterwards.
type Submission struct {
	Audio      []byte
	AudioName  string
	AudioType  string
	Question   string
	StudyLevel StudyLevel
	// CriteriaJSON is the raw "criteria" form field. When empty, Criteria
	// is encoded instead.
	CriteriaJSON string
	Criteria     Criteria
}

func (s *Submission) Validate() error {
	if len(s.Audio) == 0 {
		return ErrNoAudio
	}
	if strings.TrimSpace(s.Question) == "" {
		return ErrEmptyQuestion
	}
	return nil
}

// CriteriaField returns the value for the "criteria" form field.
func (s *Submission) CriteriaField() (string, error) {
	if s.CriteriaJSON != "" {
		return s.CriteriaJSON, nil
	}
	if len(s.Criteria) == 0 {
		return "", nil
	}
	return s.Criteria.Encode()
}

// PresetQuestion resolves a 1-based preset index.
func PresetQuestion(n int) (string, error) {
	if n < 1 || n > len(PresetQuestions) {
		return "", fmt.Errorf("preset question %d out of range 1-%d", n, len(PresetQuestions))
	}
	return PresetQuestions[n-1], nil
}
