package models

import (
	"fmt"
	"strconv"

	"github.com/flanksource/clicky/api"
)

// Severity is the editor-facing severity of a diagnostic
type Severity = string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
	SeverityHint        Severity = "hint"
)

// severityRank orders severities from most to least severe.
var severityRank = map[Severity]int{
	SeverityError:       0,
	SeverityWarning:     1,
	SeverityInformation: 2,
	SeverityHint:        3,
}

// SeverityRank returns the sort rank of a severity, most severe first.
// Unknown severities sort last.
func SeverityRank(s Severity) int {
	if rank, ok := severityRank[s]; ok {
		return rank
	}
	return len(severityRank)
}

// Position is a 0-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open editor range in 0-based coordinates.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Diagnostic is the editor-facing, range-resolved representation of a
// Violation. Immutable once created.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	RuleSet  string   `json:"ruleSet"`
	Message  string   `json:"message"`
	// Context carries the originating class/method/function when the
	// analyzer reported one.
	Context string `json:"context,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d %s %s: %s",
		d.Range.Start.Line+1, d.Range.Start.Character, d.Severity, d.Rule, d.Message)
}

// Pretty returns a formatted text representation of the diagnostic with styling
func (d Diagnostic) Pretty() api.Text {
	style := "text-blue-500"
	switch d.Severity {
	case SeverityError:
		style = "text-red-600"
	case SeverityWarning:
		style = "text-yellow-600"
	}

	t := api.Text{}.
		Append(strconv.Itoa(d.Range.Start.Line+1), "text-gray-500").
		Append(":", "text-gray-500").
		Append(strconv.Itoa(d.Range.Start.Character), "text-gray-500").
		Append(" "+d.Severity, style).
		Append(" " + d.Message)

	if d.Context != "" {
		t = t.Append(" in "+d.Context, "text-gray-400")
	}

	return t.Append(" (").Append(d.Rule, "text-gray-500").Append(")")
}
