package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Criterion is one rubric dimension the webhook scores. Weights are
// non-negative integers; the webhook uses them for its weighted average.
type Criterion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Weight      int    `json:"weight"`
}

type Criteria []Criterion

func DefaultCriteria() Criteria {
	return Criteria{
		{Name: "Vocabulary", Description: "Richness and appropriateness of vocabulary", Weight: 1},
		{Name: "Clarity", Description: "Clarity of expression", Weight: 1},
		{Name: "Fluency", Description: "Fluency and flow of speech", Weight: 1},
		{Name: "Grammar", Description: "Grammar and syntax correctness", Weight: 1},
	}
}

// Encode produces the compact JSON array sent in the "criteria" form field.
func (c Criteria) Encode() (string, error) {
	if c == nil {
		c = Criteria{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode criteria: %w", err)
	}
	return string(data), nil
}

func ParseCriteria(raw string) (Criteria, error) {
	var c Criteria
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("invalid criteria JSON: %w", err)
	}
	for i := range c {
		c[i].Name = strings.TrimSpace(c[i].Name)
		if c[i].Name == "" {
			return nil, fmt.Errorf("criterion %d has no name", i)
		}
		if c[i].Weight < 0 {
			c[i].Weight = 0
		}
	}
	return c, nil
}

// SetWeight updates the weight of the named criterion (case-insensitive),
// clamping negatives to zero. It reports whether the name was found.
func (c Criteria) SetWeight(name string, weight int) bool {
	if weight < 0 {
		weight = 0
	}
	for i := range c {
		if strings.EqualFold(c[i].Name, name) {
			c[i].Weight = weight
			return true
		}
	}
	return false
}

func (c Criteria) TotalWeight() int {
	total := 0
	for _, cr := range c {
		total += cr.Weight
	}
	return total
}

// WeightOf returns the weight for a category name, matching
// case-insensitively. ok is false for unknown categories.
func (c Criteria) WeightOf(name string) (weight int, ok bool) {
	for _, cr := range c {
		if strings.EqualFold(cr.Name, name) {
			return cr.Weight, true
		}
	}
	return 0, false
}

// NormalizeCriteriaJSON re-encodes a criteria field compactly when it is
// valid JSON. Invalid input is returned unchanged with ok=false so callers can
// still forward it.
func NormalizeCriteriaJSON(raw string) (normalized string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw, false
	}
	return buf.String(), true
}
