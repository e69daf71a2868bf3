package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pubrag/pubrag/internal/knowledge"
)

type fakeBatchEmbedder struct {
	calls int
	fail  map[int]bool // 1-based call number -> fail
}

func (f *fakeBatchEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail[f.calls] {
		return nil, errors.New("embedder unavailable")
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, knowledge.VectorDim)
	}
	return vecs, nil
}

type fakeUpserter struct {
	calls   int
	batches [][]knowledge.Record
	fail    map[int]bool // 1-based call number -> fail
}

func (f *fakeUpserter) Upsert(ctx context.Context, records []knowledge.Record) error {
	f.calls++
	if f.fail[f.calls] {
		return knowledge.ErrUpsert
	}
	f.batches = append(f.batches, records)
	return nil
}

func newPipeline(e *fakeBatchEmbedder, u *fakeUpserter, cfg Config) *Pipeline {
	return New(e, u, cfg, nil)
}

func TestIngest_BatchesAcrossDocuments(t *testing.T) {
	// Doc A yields 3 chunks, doc B yields 5; with batch size 4 the
	// pipeline must submit exactly 2 full batches.
	docs := []Document{
		{ID: "a", Text: strings.Repeat("x", 3*10)},
		{ID: "b", Text: strings.Repeat("y", 5*10)},
	}

	upserter := &fakeUpserter{}
	p := newPipeline(&fakeBatchEmbedder{}, upserter, Config{
		ChunkSize: 10, ChunkOverlap: 0, BatchSize: 4,
	})

	report, err := p.Ingest(context.Background(), NewSliceSource(docs))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if report.ChunksTotal != 8 {
		t.Errorf("ChunksTotal = %d, want 8", report.ChunksTotal)
	}
	if report.BatchesAttempted != 2 {
		t.Errorf("BatchesAttempted = %d, want 2", report.BatchesAttempted)
	}
	if len(upserter.batches) != 2 {
		t.Fatalf("got %d upserted batches, want 2", len(upserter.batches))
	}
	if len(upserter.batches[0]) != 4 || len(upserter.batches[1]) != 4 {
		t.Errorf("batch sizes = %d, %d, want 4, 4",
			len(upserter.batches[0]), len(upserter.batches[1]))
	}
	// The first batch spans both documents.
	first := upserter.batches[0]
	if first[2].SourceID != "a" || first[3].SourceID != "b" {
		t.Errorf("batch does not span documents: %v, %v", first[2].SourceID, first[3].SourceID)
	}
	if report.RecordsUpserted != 8 {
		t.Errorf("RecordsUpserted = %d, want 8", report.RecordsUpserted)
	}
}

func TestIngest_SkipsDocsWithoutID(t *testing.T) {
	docs := []Document{
		{ID: "", Title: "anonymous", Text: "some text"},
		{ID: "keep", Text: "other text"},
	}

	upserter := &fakeUpserter{}
	p := newPipeline(&fakeBatchEmbedder{}, upserter, Config{ChunkSize: 100, BatchSize: 10})

	report, err := p.Ingest(context.Background(), NewSliceSource(docs))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(report.Skips) != 1 {
		t.Fatalf("Skips = %+v, want 1 entry", report.Skips)
	}
	if report.Skips[0].Reason != "missing id" || report.Skips[0].DocID != "anonymous" {
		t.Errorf("skip = %+v", report.Skips[0])
	}
	if report.DocsProcessed != 1 {
		t.Errorf("DocsProcessed = %d, want 1", report.DocsProcessed)
	}
	for _, b := range upserter.batches {
		for _, rec := range b {
			if rec.SourceID == "" {
				t.Error("record with empty SourceID was upserted")
			}
		}
	}
}

func TestIngest_SkipsEmptyText(t *testing.T) {
	docs := []Document{
		{ID: "blank", Text: "   \n\t  "},
		{ID: "empty", Text: ""},
	}

	p := newPipeline(&fakeBatchEmbedder{}, &fakeUpserter{}, Config{ChunkSize: 100, BatchSize: 10})

	report, err := p.Ingest(context.Background(), NewSliceSource(docs))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(report.Skips) != 2 {
		t.Errorf("Skips = %+v, want 2 entries", report.Skips)
	}
	if report.ChunksTotal != 0 {
		t.Errorf("ChunksTotal = %d, want 0", report.ChunksTotal)
	}
}

func TestIngest_BatchFailureIsIsolated(t *testing.T) {
	// 8 chunks at batch size 4: embedding fails for the first batch
	// only; the second batch must still land.
	docs := []Document{{ID: "a", Text: strings.Repeat("x", 80)}}

	upserter := &fakeUpserter{}
	p := newPipeline(
		&fakeBatchEmbedder{fail: map[int]bool{1: true}},
		upserter,
		Config{ChunkSize: 10, ChunkOverlap: 0, BatchSize: 4},
	)

	report, err := p.Ingest(context.Background(), NewSliceSource(docs))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if report.BatchesAttempted != 2 {
		t.Errorf("BatchesAttempted = %d, want 2", report.BatchesAttempted)
	}
	if len(report.BatchesFailed) != 1 || report.BatchesFailed[0] != 1 {
		t.Errorf("BatchesFailed = %v, want [1]", report.BatchesFailed)
	}
	if report.RecordsSubmitted != 8 {
		t.Errorf("RecordsSubmitted = %d, want 8", report.RecordsSubmitted)
	}
	if report.RecordsUpserted != 4 {
		t.Errorf("RecordsUpserted = %d, want 4", report.RecordsUpserted)
	}
	if len(upserter.batches) != 1 {
		t.Errorf("got %d successful batches, want 1", len(upserter.batches))
	}
}

func TestIngest_UpsertFailureIsIsolated(t *testing.T) {
	docs := []Document{{ID: "a", Text: strings.Repeat("x", 80)}}

	upserter := &fakeUpserter{fail: map[int]bool{1: true}}
	p := newPipeline(&fakeBatchEmbedder{}, upserter, Config{
		ChunkSize: 10, ChunkOverlap: 0, BatchSize: 4,
	})

	report, err := p.Ingest(context.Background(), NewSliceSource(docs))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(report.BatchesFailed) != 1 || report.BatchesFailed[0] != 1 {
		t.Errorf("BatchesFailed = %v, want [1]", report.BatchesFailed)
	}
	if report.RecordsUpserted != 4 {
		t.Errorf("RecordsUpserted = %d, want 4", report.RecordsUpserted)
	}
}

func TestIngest_RecordMetadata(t *testing.T) {
	docs := []Document{{
		ID:       "pmid-42",
		Title:    "Gene therapy",
		Text:     strings.Repeat("x", 25),
		Metadata: map[string]string{"journal": "Cell"},
	}}

	upserter := &fakeUpserter{}
	p := newPipeline(&fakeBatchEmbedder{}, upserter, Config{
		ChunkSize: 10, ChunkOverlap: 0, BatchSize: 50,
	})

	if _, err := p.Ingest(context.Background(), NewSliceSource(docs)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if len(upserter.batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(upserter.batches))
	}
	recs := upserter.batches[0]
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.ChunkIndex != i {
			t.Errorf("record %d has ChunkIndex %d", i, rec.ChunkIndex)
		}
		if rec.Title != "Gene therapy" {
			t.Errorf("record %d title = %q", i, rec.Title)
		}
		if rec.Metadata["original_id"] != "pmid-42" {
			t.Errorf("record %d original_id = %q", i, rec.Metadata["original_id"])
		}
		if rec.Metadata["total_chunks"] != "3" {
			t.Errorf("record %d total_chunks = %q", i, rec.Metadata["total_chunks"])
		}
		if rec.Metadata["journal"] != "Cell" {
			t.Errorf("record %d journal = %q", i, rec.Metadata["journal"])
		}
		if len(rec.Embedding) != knowledge.VectorDim {
			t.Errorf("record %d embedding dimension = %d", i, len(rec.Embedding))
		}
	}
}

func TestIngest_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(&fakeBatchEmbedder{}, &fakeUpserter{}, Config{})
	_, err := p.Ingest(ctx, NewSliceSource([]Document{{ID: "a", Text: "text"}}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReport_RunIDAssigned(t *testing.T) {
	p := newPipeline(&fakeBatchEmbedder{}, &fakeUpserter{}, Config{})
	report, err := p.Ingest(context.Background(), NewSliceSource(nil))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.RunID == "" {
		t.Error("RunID not assigned")
	}
}
