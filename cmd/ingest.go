package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pubrag/pubrag/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file.jsonl]",
	Short: "Load documents into the corpus",
	Long: `Ingest reads documents from a JSONL file, one document per line:

  {"id": "pmid-123", "title": "...", "text": "...", "metadata": {"journal": "..."}}

Each document is chunked, embedded, and upserted into PostgreSQL.
Re-ingesting the same file is safe; existing chunks are overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var ingestBatchSize int

func init() {
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "records per upsert batch (0 = configured default)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	defer f.Close()

	report, err := sys.Ingest(ctx, ingest.NewJSONLSource(f), ingestBatchSize)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d documents (%d skipped) in %s\n",
		report.DocsProcessed, len(report.Skips), report.Duration.Round(timeRound))
	fmt.Printf("  chunks: %d, upserted: %d of %d\n",
		report.ChunksTotal, report.RecordsUpserted, report.RecordsSubmitted)
	for _, s := range report.Skips {
		fmt.Printf("  skipped %q: %s\n", s.DocID, s.Reason)
	}
	if len(report.BatchesFailed) > 0 {
		fmt.Printf("  WARNING: %d of %d batches failed; see logs\n",
			len(report.BatchesFailed), report.BatchesAttempted)
	}
	return nil
}
