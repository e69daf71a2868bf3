// Package cmd implements the pubrag command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pubrag/pubrag/internal/config"
	"github.com/pubrag/pubrag/internal/log"
	"github.com/pubrag/pubrag/internal/rag"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "pubrag",
	Short: "Retrieval-augmented question answering over a biomedical corpus",
	Long: `pubrag answers questions using a local biomedical literature corpus.

Documents are chunked, embedded, and stored in PostgreSQL with pgvector.
Questions run through a reasoning agent that searches the corpus first
and falls back to Wikipedia when the corpus has nothing relevant.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit logs as JSON")
}

// newLogger builds the CLI logger. DEBUG in the environment lowers the
// level. Logs go to stderr; stdout is reserved for answers.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: jsonLogs})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// setupSystem loads configuration and brings up the full system.
// Callers must Close the returned system.
func setupSystem(ctx context.Context, logger log.Logger) (*rag.System, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sys, err := rag.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := sys.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing system: %w", err)
	}
	return sys, nil
}
