package knowledge

import (
	"context"
	"fmt"
	"log/slog"
)

// QueryEmbedder embeds a question into the corpus vector space.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds the chunks nearest to a query vector.
type VectorSearcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]Result, error)
}

// Retriever answers questions with the k most similar corpus chunks.
// k is fixed at construction; every retrieval uses the same budget.
type Retriever struct {
	embedder QueryEmbedder
	searcher VectorSearcher
	k        int
	logger   *slog.Logger
}

// NewRetriever creates a Retriever returning k chunks per question.
// A non-positive k falls back to 2.
func NewRetriever(embedder QueryEmbedder, searcher VectorSearcher, k int, logger *slog.Logger) *Retriever {
	if k < 1 {
		k = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		k:        k,
		logger:   logger,
	}
}

// Retrieve embeds question and returns its nearest chunks, most similar
// first. An empty corpus yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Result, error) {
	vec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	results, err := r.searcher.Query(ctx, vec, r.k)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	r.logger.Debug("retrieved chunks", "k", r.k, "hits", len(results))
	return results, nil
}
