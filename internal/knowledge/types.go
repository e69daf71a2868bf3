// Package knowledge manages the embedded corpus: chunk records, vector
// embeddings, and similarity search over PostgreSQL + pgvector.
package knowledge

import "errors"

// VectorDim is the embedding dimensionality of the chunks table schema.
// Embedders must be configured to produce vectors of this size
// (gemini-embedding-001 via OutputDimensionality, nomic-embed-text natively).
const VectorDim = 768

var (
	// ErrEmbedding indicates embedding generation failed.
	ErrEmbedding = errors.New("embedding generation failed")

	// ErrUpsert indicates a chunk batch could not be written.
	ErrUpsert = errors.New("chunk upsert failed")

	// ErrQuery indicates a vector similarity search failed.
	ErrQuery = errors.New("vector search failed")
)

// Record is one embedded corpus chunk, keyed by (SourceID, ChunkIndex).
// Re-ingesting a document overwrites its records in place.
type Record struct {
	SourceID   string
	ChunkIndex int
	Title      string
	Content    string
	Metadata   map[string]string
	Embedding  []float32
}

// Result is a search hit: the stored record plus its cosine similarity
// to the query vector, in [-1, 1] with 1 meaning identical direction.
type Result struct {
	Record     Record
	Similarity float64
}

// SplitBatches partitions records into consecutive batches of at most
// size records. A non-positive size yields a single batch.
func SplitBatches(records []Record, size int) [][]Record {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]Record{records}
	}
	batches := make([][]Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
