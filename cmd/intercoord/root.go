package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// newRootCmd creates the root intercoord command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:           "intercoord",
		Short:         "Agent coordination and review service",
		Long:          "intercoord coordinates task claims, file locks and peer review\nbetween autonomous agents sharing a repository.",
		Version:       fmt.Sprintf("intercoord %s", version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("INTERCOORD_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(&logLevel),
		newInitCmd(),
		newToolCmd(&logLevel),
		newSweepCmd(&logLevel),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "intercoord %s\n", version)
			return nil
		},
	}
}

// newLogger builds the process logger. Logs go to stderr so tool output on
// stdout stays machine readable.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
