package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/samber/lo"

	"github.com/genealabs/phpmd-lsp/models"
)

var (
	fileStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// Manager renders per-file diagnostics in the requested format.
type Manager struct {
	format string
	output string
}

func NewManager(format string) *Manager {
	return &Manager{format: format}
}

// SetOutputFile redirects output to a file instead of stdout.
func (m *Manager) SetOutputFile(file string) {
	m.output = file
}

// Output writes the diagnostics grouped by file.
func (m *Manager) Output(byFile map[string][]models.Diagnostic) error {
	w, closer, err := m.writer()
	if err != nil {
		return err
	}
	defer closer()

	switch m.format {
	case "json":
		return m.outputJSON(w, byFile)
	default:
		return m.outputTable(w, byFile)
	}
}

func (m *Manager) writer() (io.Writer, func(), error) {
	if m.output == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(m.output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func (m *Manager) outputJSON(w io.Writer, byFile map[string][]models.Diagnostic) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(byFile)
}

func (m *Manager) outputTable(w io.Writer, byFile map[string][]models.Diagnostic) error {
	files := lo.Keys(byFile)
	sort.Strings(files)

	for _, file := range files {
		fmt.Fprintln(w, fileStyle.Render(file))

		diags := byFile[file]
		sort.Slice(diags, func(i, j int) bool {
			if diags[i].Range.Start.Line != diags[j].Range.Start.Line {
				return diags[i].Range.Start.Line < diags[j].Range.Start.Line
			}
			return models.SeverityRank(diags[i].Severity) < models.SeverityRank(diags[j].Severity)
		})
		for _, d := range diags {
			fmt.Fprintln(w, "  "+d.Pretty().ANSI())
		}
	}

	total := lo.SumBy(lo.Values(byFile), func(d []models.Diagnostic) int { return len(d) })
	if total > 0 {
		fmt.Fprintf(w, "%s (%s)\n",
			summaryStyle.Render(fmt.Sprintf("%d violations in %d files", total, len(byFile))),
			severityCounts(byFile))
	}
	return nil
}

func severityCounts(byFile map[string][]models.Diagnostic) string {
	counts := make(map[models.Severity]int)
	for _, diags := range byFile {
		for _, d := range diags {
			counts[d.Severity]++
		}
	}

	var parts []string
	if n := counts[models.SeverityError]; n > 0 {
		parts = append(parts, color.RedString("%d errors", n))
	}
	if n := counts[models.SeverityWarning]; n > 0 {
		parts = append(parts, color.YellowString("%d warnings", n))
	}
	if n := counts[models.SeverityInformation]; n > 0 {
		parts = append(parts, color.CyanString("%d info", n))
	}
	return strings.Join(parts, ", ")
}
