package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	options := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "agentflow",
		Short:         "Validate, plan and simulate agent workflow documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnv(options.envFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&options.envFile, "env-file", ".env", "dotenv file loaded before running (ignored when missing)")
	flags.StringVar(&options.logLevel, "log-level", "", "log level: trace, debug, info, warn, error (default from AGENTFLOW_LOG_LEVEL)")
	flags.StringVar(&options.logFormat, "log-format", "", "log format: compact, pretty, json (default from AGENTFLOW_LOG_FORMAT)")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newSimulateCmd(options))
	return rootCmd
}

// loadEnv loads path into the environment without overriding variables that
// are already set.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
