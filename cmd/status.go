package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// timeRound is the display precision for durations.
const timeRound = 10 * time.Millisecond

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()
	sys, err := setupSystem(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			logger.Warn("closing system", "error", err)
		}
	}()

	count, err := sys.ChunkCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Corpus chunks: %d\n", count)
	return nil
}
