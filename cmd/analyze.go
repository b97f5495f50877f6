package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genealabs/phpmd-lsp/diagnostics"
	"github.com/genealabs/phpmd-lsp/executor"
	"github.com/genealabs/phpmd-lsp/internal/files"
	"github.com/genealabs/phpmd-lsp/models"
	"github.com/genealabs/phpmd-lsp/output"
)

var (
	analyzeExcludes []string
	analyzeRulesets string
	analyzeTimeout  time.Duration
	analyzeFormat   string
	analyzeOutput   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path...]",
	Short: "Analyze PHP files once and print diagnostics",
	Long: `Run phpmd against the given files or directories through the same
pipeline the language server uses and print the resolved diagnostics.

Examples:
  # Analyze the current directory
  phpmd-lsp analyze

  # Analyze specific paths with a custom ruleset
  phpmd-lsp analyze src/ --rulesets cleancode,codesize

  # Skip vendored code
  phpmd-lsp analyze --exclude "vendor/**"`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeExcludes, "exclude", []string{"vendor/**"}, "glob patterns to skip")
	analyzeCmd.Flags().StringVar(&analyzeRulesets, "rulesets", "", "comma-separated rulesets or a ruleset XML path")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", executor.DefaultTimeout, "per-file analysis deadline")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "table", "output format (table, json)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write output to a file instead of stdout")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{"."}
	}

	phpFiles, err := files.FindPHPFiles(args, analyzeExcludes)
	if err != nil {
		return err
	}
	if len(phpFiles) == 0 {
		logger.Infof("no PHP files found")
		return nil
	}

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	engine := diagnostics.NewDefaultEngine(workDir, executor.WithTimeout(analyzeTimeout))

	rulesets := analyzeRulesets
	if rulesets == "" {
		rulesets = viper.GetString("rulesets")
	}
	if rulesets != "" {
		engine.UpdateSettings(diagnostics.Settings{Rulesets: rulesets})
	}

	byFile := make(map[string][]models.Diagnostic)
	for _, file := range phpFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Warnf("skipping %s: %v", file, err)
			continue
		}

		engine.Open(file, content)
		result, err := engine.RequestDiagnostics(cmd.Context(), file, "")
		engine.Close(file)
		if err != nil {
			return err
		}
		if len(result.Diagnostics) > 0 {
			byFile[file] = result.Diagnostics
		}
	}

	manager := output.NewManager(analyzeFormat)
	if analyzeOutput != "" {
		manager.SetOutputFile(analyzeOutput)
	}
	if err := manager.Output(byFile); err != nil {
		return err
	}

	total := lo.SumBy(lo.Values(byFile), func(d []models.Diagnostic) int { return len(d) })
	if total > 0 {
		return fmt.Errorf("%d violations in %d files", total, len(byFile))
	}
	return nil
}
