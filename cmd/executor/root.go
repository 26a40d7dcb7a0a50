package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/logger"
)

var (
	configPath string
	logLevel   string
	cliLogger  *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "dataexec",
	Short:         "Run data source jobs from the command line.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// stdout carries JSON results, logs go to stderr
		cliLogger = logger.New(&logger.Config{
			Level:       logLevel,
			Format:      "text",
			Output:      cmd.ErrOrStderr(),
			ServiceName: "dataexec-cli",
		})
		logger.SetDefaultLogger(cliLogger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
