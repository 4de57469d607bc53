package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"

	"github.com/english-check/backend/internal/assessment"
)

type Band string

const (
	BandGood Band = "good"
	BandFair Band = "fair"
	BandPoor Band = "poor"
)

func BandFor(score float64) Band {
	switch {
	case score >= 70:
		return BandGood
	case score >= 40:
		return BandFair
	default:
		return BandPoor
	}
}

type ScoreRow struct {
	Category string
	Score    float64
	// Bar is Score clamped to [0,100] for drawing.
	Bar     float64
	Band    Band
	Comment string
	Weight  int
}

// Report is the display model for one assessment.
type Report struct {
	Rows []ScoreRow

	WeightedAverage    float64
	HasWeightedAverage bool
	// WeightedComputed is true when the average was derived locally because
	// the payload did not carry one.
	WeightedComputed bool

	Duration string

	WordCount    int
	HasWordCount bool

	Percentile       float64
	HasPercentile    bool
	PopulationMean   float64
	PopulationStdDev float64
	SampleSize       int

	Transcript  string
	GreatParts  []string
	Suggestions []string
}

// Build turns a decoded result into a Report. Criteria supply row order and
// the weights used when the payload has no weighted average.
func Build(r *assessment.Result, criteria assessment.Criteria) Report {
	var rep Report
	if r == nil {
		rep.Duration = "N/A"
		return rep
	}

	if r.Output != nil {
		rep.Rows = buildRows(r.Output.Assessment, criteria)
		if fb := r.Output.Feedback; fb != nil {
			rep.GreatParts = nonEmpty(fb.GreatParts)
			rep.Suggestions = nonEmpty(fb.ImprovementSuggestions)
			if text := strings.TrimSpace(fb.Text); text != "" {
				rep.Suggestions = append(rep.Suggestions, text)
			}
		}
	}

	switch {
	case r.WeightedAverage != nil && r.WeightedAverage.Score.Valid:
		rep.WeightedAverage = r.WeightedAverage.Score.Value
		rep.HasWeightedAverage = true
	case len(rep.Rows) > 0:
		rep.WeightedAverage = weightedMean(rep.Rows)
		rep.HasWeightedAverage = true
		rep.WeightedComputed = true
	}

	rep.Duration = FormatDuration(r.Duration)

	rep.Transcript = strings.TrimSpace(r.Transcript)
	if rep.Transcript == "" && r.Output != nil {
		rep.Transcript = strings.TrimSpace(r.Output.Transcription)
	}

	if r.WordCount.Valid {
		rep.WordCount = int(r.WordCount.Value)
		rep.HasWordCount = true
	} else if rep.Transcript != "" {
		rep.WordCount = CountWords(rep.Transcript)
		rep.HasWordCount = true
	}

	if rep.HasWordCount && r.PopulationMean.Valid && r.PopulationStdDev.Valid && r.PopulationStdDev.Value > 0 {
		rep.PopulationMean = r.PopulationMean.Value
		rep.PopulationStdDev = r.PopulationStdDev.Value
		rep.Percentile = Percentile(float64(rep.WordCount), rep.PopulationMean, rep.PopulationStdDev)
		rep.HasPercentile = true
		if r.SampleSize.Valid {
			rep.SampleSize = int(r.SampleSize.Value)
		}
	}

	return rep
}

func buildRows(scores map[string]assessment.CategoryScore, criteria assessment.Criteria) []ScoreRow {
	rows := make([]ScoreRow, 0, len(scores))
	for name, cs := range scores {
		score := cs.Score.Value
		weight, ok := criteria.WeightOf(name)
		if !ok {
			weight = 1
		}
		rows = append(rows, ScoreRow{
			Category: name,
			Score:    score,
			Bar:      clamp(score, 0, 100),
			Band:     BandFor(score),
			Comment:  strings.TrimSpace(cs.Comment),
			Weight:   weight,
		})
	}

	order := make(map[string]int, len(criteria))
	for i, c := range criteria {
		order[strings.ToLower(c.Name)] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		oi, iKnown := order[strings.ToLower(rows[i].Category)]
		oj, jKnown := order[strings.ToLower(rows[j].Category)]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return rows[i].Category < rows[j].Category
		}
	})
	return rows
}

// weightedMean falls back to the plain mean when every weight is zero.
func weightedMean(rows []ScoreRow) float64 {
	var sum, plain float64
	total := 0
	for _, r := range rows {
		sum += r.Score * float64(r.Weight)
		plain += r.Score
		total += r.Weight
	}
	if total == 0 {
		return plain / float64(len(rows))
	}
	return sum / float64(total)
}

// FormatDuration renders seconds as m:ss, or Ns below a minute. Missing or
// zero durations are "N/A".
func FormatDuration(d assessment.Number) string {
	if !d.Valid || d.Value == 0 {
		return "N/A"
	}
	sec := int(d.Value)
	minutes := sec / 60
	if minutes > 0 {
		return fmt.Sprintf("%d:%02d", minutes, sec%60)
	}
	return fmt.Sprintf("%ds", sec)
}

// CountWords tokenizes text and counts tokens containing a letter or digit.
func CountWords(text string) int {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return len(strings.Fields(text))
	}

	n := 0
	for _, tok := range doc.Tokens() {
		if strings.IndexFunc(tok.Text, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) >= 0 {
			n++
		}
	}
	return n
}

// Percentile of x under a normal distribution, in percent.
func Percentile(x, mean, stddev float64) float64 {
	if stddev <= 0 {
		return math.NaN()
	}
	z := (x - mean) / stddev
	return (1 + erf(z/math.Sqrt2)) / 2 * 100
}

// erf uses the Abramowitz-Stegun 7.1.26 approximation.
func erf(x float64) float64 {
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	sign := 1.0
	if x < 0 {
		sign = -1
	}
	x = math.Abs(x)
	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)
	return sign * y
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
