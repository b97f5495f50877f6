package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/genealabs/phpmd-lsp/diagnostics"
	"github.com/genealabs/phpmd-lsp/executor"
	"github.com/genealabs/phpmd-lsp/lsp"
)

var (
	serveDebounce  time.Duration
	serveTimeout   time.Duration
	serveProcesses int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the language server on stdio",
	Long: `Serve LSP requests over stdin/stdout. This is the mode editors launch;
all logging goes to stderr so the protocol stream stays clean.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveDebounce, "debounce", 300*time.Millisecond, "delay before re-analyzing after an edit")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", executor.DefaultTimeout, "per-analysis deadline")
	serveCmd.Flags().IntVar(&serveProcesses, "max-processes", executor.DefaultSlots, "maximum concurrent phpmd processes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Infof("phpmd language server starting")

	engine := diagnostics.NewDefaultEngine("",
		executor.WithTimeout(serveTimeout),
		executor.WithSlots(serveProcesses),
	)
	if rulesets := viper.GetString("rulesets"); rulesets != "" {
		engine.UpdateSettings(diagnostics.Settings{Rulesets: rulesets})
	}

	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Debounce: serveDebounce,
		Engine:   engine,
	})

	err := server.Run(context.Background())
	if errors.Is(err, lsp.ErrExit) || errors.Is(err, lsp.ErrExitWithoutShutdown) {
		logger.Infof("phpmd language server shutting down")
		return nil
	}
	return err
}
