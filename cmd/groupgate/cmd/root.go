// Package cmd provides the CLI commands for GroupGate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/groupgate/groupgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "groupgate",
	Short: "GroupGate - just-in-time group membership broker",
	Long: `GroupGate brokers time-bounded memberships in cloud identity groups.

Users discover the JIT groups their policies let them see, join eligible
groups directly or through peer approval, and receive memberships that the
identity provider expires automatically. IAM role bindings on the groups'
resources are kept in sync with policy.

Quick start:
  1. Create a config file: groupgate.yaml
  2. Put one <environment>.yaml policy document per environment in policy.dir
  3. Run: groupgate serve

Configuration:
  Config is loaded from groupgate.yaml in the current directory,
  $HOME/.groupgate/, or /etc/groupgate/.

  Environment variables can override config values with the GROUPGATE_ prefix.
  Example: GROUPGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the broker server
  reconcile   Reconcile all environments once and exit
  validate    Validate policy documents
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./groupgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger builds the process logger on stderr at the configured level.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
