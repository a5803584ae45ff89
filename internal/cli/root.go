// Package cli implements the browserq command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	serverURL  string
	apiKey     string
}

// NewRootCmd builds the browserq command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "browserq",
		Short:         "Asynchronous browser scrape job service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&flags.serverURL, "server", "http://localhost:8080", "server base URL for client commands")
	cmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", os.Getenv("BROWSERQ_API_KEY"), "API key for client commands")

	cmd.AddCommand(
		newServeCmd(flags),
		newSubmitCmd(flags),
		newStatusCmd(flags),
		newJobsCmd(flags),
	)
	return cmd
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseLogLevel maps a config string to a slog level.
func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
