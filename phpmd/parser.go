package phpmd

import (
	"bytes"
	"encoding/json"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/genealabs/phpmd-lsp/models"
)

// report mirrors the JSON object PHPMD writes to stdout.
type report struct {
	Files []reportFile `json:"files"`
}

type reportFile struct {
	File       string             `json:"file"`
	Violations []models.Violation `json:"violations"`
}

// ExtractPayload returns the minimal balanced JSON object embedded in raw
// process output. PHP deprecation notices and wrapper scripts routinely
// prepend or append noise around the report, so the scan starts at the
// first top-level '{' and tracks nesting depth and string/escape state to
// ignore braces inside literals. Without a balanced close the input is
// returned unchanged and the subsequent decode fails on its own.
func ExtractPayload(raw []byte) []byte {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return raw
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}

	return raw
}

// ParseViolations decodes a PHPMD JSON report and flattens the violations
// across every reported file entry. A single isolated-file run reports
// exactly one entry; entries under other paths are trusted as-is. Empty
// or undecodable output means no findings were determined, never a
// pipeline error.
func ParseViolations(payload []byte) []models.Violation {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	var r report
	if err := json.Unmarshal(payload, &r); err != nil {
		logger.Debugf("failed to parse phpmd output: %v\noutput: %s", err, payload)
		return nil
	}

	return lo.FlatMap(r.Files, func(f reportFile, _ int) []models.Violation {
		return f.Violations
	})
}
