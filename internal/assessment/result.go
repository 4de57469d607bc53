package assessment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyResponse = errors.New("empty response from assessment service")

// Number decodes a JSON number or a numeric string. Anything else leaves it
// unset rather than failing the whole payload.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*n = Number{}
			return nil
		}
		*n = Number{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*n = Number{}
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// CategoryScore is one assessment entry. The service sends either
// {"score": n, "comment": "..."} or a bare number.
type CategoryScore struct {
	Score   Number `json:"score"`
	Comment string `json:"comment,omitempty"`
}

func (c *CategoryScore) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain CategoryScore
		var p plain
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return err
		}
		*c = CategoryScore(p)
		return nil
	}
	var n Number
	if err := n.UnmarshalJSON(trimmed); err != nil {
		return err
	}
	*c = CategoryScore{Score: n}
	return nil
}

// Feedback holds strengths and suggestions. A plain string payload lands in
// Text.
type Feedback struct {
	GreatParts             []string `json:"great_parts,omitempty"`
	ImprovementSuggestions []string `json:"improvement_suggestions,omitempty"`
	Text                   string   `json:"-"`
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = Feedback{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = Feedback{Text: s}
		return nil
	}
	var raw struct {
		GreatParts             json.RawMessage `json:"great_parts"`
		ImprovementSuggestions json.RawMessage `json:"improvement_suggestions"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*f = Feedback{
		GreatParts:             stringList(raw.GreatParts),
		ImprovementSuggestions: stringList(raw.ImprovementSuggestions),
	}
	return nil
}

// stringList accepts an array of strings or a single string.
func stringList(data json.RawMessage) []string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

type Output struct {
	Transcription string                   `json:"transcription,omitempty"`
	Assessment    map[string]CategoryScore `json:"assessment,omitempty"`
	Feedback      *Feedback                `json:"feedback,omitempty"`
}

type WeightedAverage struct {
	Score Number `json:"score"`
}

// Result is a lenient view over whatever the assessment service returned.
// Every field may be missing; Raw keeps the original bytes for relaying.
type Result struct {
	Output          *Output          `json:"output,omitempty"`
	WeightedAverage *WeightedAverage `json:"weightedAverage,omitempty"`
	Duration        Number           `json:"duration"`
	WordCount       Number           `json:"word_count"`
	Transcript      string           `json:"transcript,omitempty"`

	PopulationMean   Number `json:"population_mean"`
	PopulationStdDev Number `json:"population_standard_deviation"`
	SampleSize       Number `json:"sample_size"`

	Status    string `json:"status,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
	Details   string `json:"details,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DecodeResult parses a webhook or proxy body. A top-level array is
// unwrapped to its first element.
func DecodeResult(body []byte) (*Result, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyResponse
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		if len(items) == 0 {
			return nil, ErrEmptyResponse
		}
		body = bytes.TrimSpace(items[0])
	}

	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("invalid result JSON: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), body...)
	return &r, nil
}

func (r *Result) HasOutput() bool {
	return r != nil && r.Output != nil
}

func (r *Result) IsProcessing() bool {
	return r != nil && r.Status == "processing"
}
