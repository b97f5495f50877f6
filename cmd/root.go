package cmd

import (
	"fmt"
	"os"

	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	getVersionInfo func() (string, string, string)
)

var rootCmd = &cobra.Command{
	Use:   "phpmd-lsp",
	Short: "Language server for PHP Mess Detector",
	Long: `phpmd-lsp embeds PHP Mess Detector into the editing loop: it runs
phpmd against open documents, caches results per content checksum, and
serves precise, incrementally updated diagnostics over the language
server protocol.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersionInfo registers the build-time version information provider.
func SetVersionInfo(fn func() (string, string, string)) {
	getVersionInfo = fn
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.phpmd-lsp.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".phpmd-lsp")
	}

	viper.SetEnvPrefix("PHPMD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if getVersionInfo == nil {
			fmt.Println("phpmd-lsp version dev")
			return
		}
		version, commit, date := getVersionInfo()
		fmt.Printf("phpmd-lsp version %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
