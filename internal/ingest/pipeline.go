package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pubrag/pubrag/internal/chunk"
	"github.com/pubrag/pubrag/internal/knowledge"
)

// BatchEmbedder embeds a batch of texts, preserving order.
type BatchEmbedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes a batch of records transactionally.
type Upserter interface {
	Upsert(ctx context.Context, records []knowledge.Record) error
}

// Config holds pipeline parameters. Zero values fall back to the
// package defaults used by config.setDefaults.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 5000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
}

// Skip records one document left out of a run, with the reason.
type Skip struct {
	DocID  string
	Reason string
}

// Report summarizes one ingestion run. Partial success is normal:
// compare RecordsUpserted against RecordsSubmitted.
type Report struct {
	RunID            string
	DocsProcessed    int
	Skips            []Skip
	ChunksTotal      int
	BatchesAttempted int
	BatchesFailed    []int // 1-based batch numbers
	RecordsSubmitted int
	RecordsUpserted  int
	Duration         time.Duration
}

// Pipeline ingests documents into the corpus store.
type Pipeline struct {
	embedder BatchEmbedder
	store    Upserter
	cfg      Config
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(embedder BatchEmbedder, store Upserter, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Ingest reads every document from src, chunks it, and writes embedded
// records in batches of at most Config.BatchSize.
//
// Failure handling is per batch: an embedding or upsert error fails only
// that batch, is logged, and ingestion continues with the next batch.
// Documents without an ID are skipped and recorded in the report with
// the reason.
//
// Ingest returns an error only when the source itself fails or ctx is
// cancelled; batch failures surface through Report.BatchesFailed.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", report.RunID)

	var pending []knowledge.Record

	for {
		doc, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("reading source: %w", err)
		}

		if doc.ID == "" {
			report.Skips = append(report.Skips, Skip{DocID: doc.Title, Reason: "missing id"})
			logger.Warn("skipping document without ID", "title", doc.Title)
			continue
		}

		chunks := chunk.Split(doc.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
		if len(chunks) == 0 {
			report.Skips = append(report.Skips, Skip{DocID: doc.ID, Reason: "no usable text"})
			logger.Warn("skipping document with no usable text", "id", doc.ID)
			continue
		}

		for i, c := range chunks {
			meta := make(map[string]string, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["original_id"] = doc.ID
			meta["total_chunks"] = strconv.Itoa(len(chunks))

			pending = append(pending, knowledge.Record{
				SourceID:   doc.ID,
				ChunkIndex: i,
				Title:      doc.Title,
				Content:    c,
				Metadata:   meta,
			})
		}

		report.DocsProcessed++
		report.ChunksTotal += len(chunks)
	}

	for _, batch := range knowledge.SplitBatches(pending, p.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.BatchesAttempted++
		report.RecordsSubmitted += len(batch)
		if err := p.ingestBatch(ctx, batch); err != nil {
			report.BatchesFailed = append(report.BatchesFailed, report.BatchesAttempted)
			logger.Error("batch failed",
				"batch", report.BatchesAttempted,
				"records", len(batch),
				"error", err)
			continue
		}
		report.RecordsUpserted += len(batch)
	}

	report.Duration = time.Since(start)
	logger.Info("ingestion finished",
		"docs", report.DocsProcessed,
		"skipped", len(report.Skips),
		"chunks", report.ChunksTotal,
		"batches", report.BatchesAttempted,
		"failed_batches", len(report.BatchesFailed),
		"submitted", report.RecordsSubmitted,
		"upserted", report.RecordsUpserted,
		"duration", report.Duration)

	return report, nil
}

// ingestBatch embeds the batch contents and upserts the records.
func (p *Pipeline) ingestBatch(ctx context.Context, batch []knowledge.Record) error {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Content
	}

	vecs, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return err
	}

	for i := range batch {
		batch[i].Embedding = vecs[i]
	}

	return p.store.Upsert(ctx, batch)
}
