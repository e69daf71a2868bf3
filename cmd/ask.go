package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var streamAnswer bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&streamAnswer, "stream", false, "stream the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
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

	question := strings.Join(args, " ")

	if streamAnswer {
		cb := func(ctx context.Context, fragment string) error {
			fmt.Print(fragment)
			return nil
		}
		if _, err := sys.QueryStream(ctx, question, nil, cb); err != nil {
			return err
		}
		fmt.Println()
		return nil
	}

	answer, err := sys.Query(ctx, question, nil)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
