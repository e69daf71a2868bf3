package knowledge

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
)

// Embedder wraps a Genkit ai.Embedder with the fixed-dimension contract
// the chunks schema requires. All errors wrap ErrEmbedding.
type Embedder struct {
	embedder ai.Embedder
}

// NewEmbedder creates an Embedder backed by the given Genkit embedder.
func NewEmbedder(embedder ai.Embedder) *Embedder {
	return &Embedder{embedder: embedder}
}

// EmbedOne embeds a single text and returns its vector.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds texts in one request, preserving order. The response
// must contain exactly one vector per input of dimension VectorDim.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbedding, len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) != VectorDim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrEmbedding, i, len(emb.Embedding), VectorDim)
		}
		vecs[i] = emb.Embedding
	}
	return vecs, nil
}
