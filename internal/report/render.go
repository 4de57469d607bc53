package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
)

const barWidth = 20

// Render writes the terminal view of a report.
func Render(w io.Writer, rep Report) error {
	ew := &errWriter{w: w}

	ew.printf("English Assessment Results\n")
	ew.printf("==========================\n\n")

	if rep.HasWeightedAverage {
		label := "Overall score"
		if rep.WeightedComputed {
			label += " (computed)"
		}
		ew.printf("%s: %.0f/100  %s\n", label, rep.WeightedAverage, Bar(rep.WeightedAverage))
	}
	ew.printf("Duration: %s\n", rep.Duration)
	if rep.HasWordCount {
		ew.printf("Word count: %d\n", rep.WordCount)
	}
	if rep.HasPercentile {
		ew.printf("Word count percentile: %.1f%% (mean %.1f, sd %.1f", rep.Percentile, rep.PopulationMean, rep.PopulationStdDev)
		if rep.SampleSize > 0 {
			ew.printf(", n=%d", rep.SampleSize)
		}
		ew.printf(")\n")
	}

	if len(rep.Rows) > 0 {
		ew.printf("\nScores\n------\n")
		tw := tabwriter.NewWriter(ew, 0, 4, 2, ' ', 0)
		for _, row := range rep.Rows {
			fmt.Fprintf(tw, "%s\t%.0f/100\t%s\t%s\n", row.Category, row.Score, Bar(row.Bar), row.Band)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, row := range rep.Rows {
			if row.Comment != "" {
				ew.printf("  %s: %s\n", row.Category, row.Comment)
			}
		}
	}

	renderList(ew, "What you did well", rep.GreatParts)
	renderList(ew, "Suggestions for improvement", rep.Suggestions)

	if rep.Transcript != "" {
		ew.printf("\nTranscript\n----------\n%s\n", rep.Transcript)
	}
	return ew.err
}

// Bar draws a fixed-width bar for a score in [0,100].
func Bar(score float64) string {
	filled := int(math.Round(clamp(score, 0, 100) / 100 * barWidth))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

func renderList(ew *errWriter, title string, items []string) {
	if len(items) == 0 {
		return
	}
	ew.printf("\n%s\n%s\n", title, strings.Repeat("-", len(title)))
	for _, item := range items {
		ew.printf("  - %s\n", item)
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...interface{}) {
	fmt.Fprintf(e, format, args...)
}
