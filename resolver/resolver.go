package resolver

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/genealabs/phpmd-lsp/models"
)

// sentinelEndChar marks "whole line" when the resolved line no longer
// exists in the document, e.g. when content changed between the snapshot
// and the analyzer finishing.
const sentinelEndChar = 9999

// methodCollapseSpan is the largest method-rule span kept in full; wider
// spans collapse to the signature line.
const methodCollapseSpan = 5

// defaultCollapseSpan is the largest unclassified span kept in full.
const defaultCollapseSpan = 10

// Diagnostic converts a raw violation into an editor diagnostic using the
// document text the analysis actually ran against.
func Diagnostic(v models.Violation, text string) models.Diagnostic {
	message := fmt.Sprintf("%s (%s)", strings.TrimSpace(v.Description), v.Rule)
	if v.ExternalInfoURL != "" {
		message += "\nMore info: " + v.ExternalInfoURL
	}

	return models.Diagnostic{
		Range:    Resolve(v, text),
		Severity: Severity(v.Priority),
		Rule:     v.Rule,
		RuleSet:  v.RuleSet,
		Message:  message,
		Context:  v.Context(),
	}
}

// Severity maps a PHPMD priority (1 most severe, 5 least) onto the fixed
// editor severity scale.
func Severity(priority int) models.Severity {
	switch {
	case priority <= 2:
		return models.SeverityError
	case priority <= 4:
		return models.SeverityWarning
	}
	return models.SeverityInformation
}

// Resolve maps a violation's 1-based inclusive line span onto a 0-based
// display range, collapsing coarse analyzer spans per rule class.
func Resolve(v models.Violation, text string) models.Range {
	lines := strings.Split(text, "\n")

	beginLine := v.BeginLine
	endLine := v.EndLine
	if endLine < beginLine {
		endLine = beginLine
	}
	span := endLine - beginLine + 1

	switch Classify(v.Rule) {
	case RuleClassProperty:
		if line, ok := findPropertyLine(v.Description, lines); ok {
			beginLine = line
		}
		endLine = beginLine
	case RuleClassClass, RuleClassSingleLine:
		endLine = beginLine
	case RuleClassMethod:
		if span > methodCollapseSpan {
			endLine = beginLine
		}
	default:
		if span > defaultCollapseSpan {
			endLine = beginLine
		}
	}

	return charBounds(beginLine-1, endLine-1, lines)
}

// charBounds attaches character offsets: start at the first
// non-whitespace character of the start line, end at the end of the end
// line. Lines that fell outside the document get column 0 and a sentinel
// end column.
func charBounds(start, end int, lines []string) models.Range {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}

	r := models.Range{
		Start: models.Position{Line: start},
		End:   models.Position{Line: end, Character: sentinelEndChar},
	}

	if start >= len(lines) || end >= len(lines) {
		return r
	}

	r.Start.Character = firstNonSpace(lines[start])
	r.End.Character = len(lines[end])
	return r
}

func firstNonSpace(line string) int {
	for i, c := range line {
		if !unicode.IsSpace(c) {
			return i
		}
	}
	return 0
}

// findPropertyLine locates the declaration line of the property named in
// the violation description, returning a 1-based line number. The scan
// skips comments, parameter lists and member/static access usages, and
// accepts a line when it carries a declaration modifier, an assignment,
// or terminates the statement. The identifier match is a plain substring
// search, so a property whose name is a prefix of another's can match the
// longer declaration first; that looseness is accepted.
func findPropertyLine(description string, lines []string) (int, bool) {
	ident := propertyToken(description)
	if ident == "" {
		return 0, false
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isComment(trimmed) {
			continue
		}

		idx := strings.Index(line, ident)
		if idx < 0 {
			continue
		}

		// Parameter lists mention the property name without declaring it.
		if strings.Contains(line, "function") {
			continue
		}

		// `self::$prop` and `$obj->$prop` are usages, not declarations.
		if idx >= 2 {
			prefix := line[idx-2 : idx]
			if prefix == "::" || prefix == "->" {
				continue
			}
		}

		if isDeclarationLine(line, idx+len(ident)) {
			return i + 1, true
		}
	}

	return 0, false
}

// propertyToken extracts the first $-token from the description,
// including the leading dollar sign.
func propertyToken(description string) string {
	start := strings.IndexByte(description, '$')
	if start < 0 {
		return ""
	}

	end := start + 1
	for end < len(description) {
		c := description[end]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			end++
			continue
		}
		break
	}
	if end == start+1 {
		return ""
	}
	return description[start:end]
}

func isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "/*") ||
		strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "#")
}

// isDeclarationLine reports whether a line containing the identifier
// (ending at rest) actually declares it: a visibility/static/var
// modifier, an assignment, or a statement terminator right after the
// identifier.
func isDeclarationLine(line string, rest int) bool {
	for _, modifier := range []string{"private", "protected", "public", "static", "var"} {
		if strings.Contains(line, modifier+" ") {
			return true
		}
	}

	tail := strings.TrimSpace(line[rest:])
	return strings.HasPrefix(tail, "=") || strings.HasPrefix(tail, ";")
}
