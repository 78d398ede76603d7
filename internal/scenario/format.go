package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

const labelWidth = 40

// FormatText renders run results for a terminal: one PASS/FAIL line per
// scenario, the failing steps below it, and a closing tally.
func FormatText(results []*RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running %d scenario %s...\n\n", len(results), plural(len(results), "file"))

	var steps, passed, failed int
	for _, r := range results {
		steps += r.Total
		passed += r.Passed
		if r.Failed > 0 {
			failed++
		}
		writeResult(&b, r)
	}

	fmt.Fprintf(&b, "\n%d of %d steps passed.", passed, steps)
	if failed > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", failed, len(results))
	}
	b.WriteByte('\n')
	return b.String()
}

func writeResult(b *strings.Builder, r *RunResult) {
	verdict := "PASS"
	if r.Failed > 0 {
		verdict = "FAIL"
	}
	fmt.Fprintf(b, "  %s  %s (%d/%d)\n", verdict, r.Name, r.Passed, r.Total)
	for _, s := range r.Steps {
		if s.Passed {
			continue
		}
		fmt.Fprintf(b, "    FAIL  step %d: %-*s expected %s, got %s\n",
			s.Index, labelWidth, stepLabel(s), s.Expected, s.Actual)
		if s.Detail != "" {
			fmt.Fprintf(b, "          %s\n", s.Detail)
		}
	}
}

func stepLabel(s StepResult) string {
	label := s.Purpose
	if label == "" {
		label = s.Action
	}
	if len(label) > labelWidth {
		label = label[:labelWidth-3] + "..."
	}
	return label
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// FormatJSON renders run results as indented JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
