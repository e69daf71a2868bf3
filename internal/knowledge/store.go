package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// DB is the subset of pgxpool.Pool the store needs.
// Defined here (consumer side) so tests can substitute a fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists and searches embedded corpus chunks in PostgreSQL.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a Store on the given connection pool.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const upsertSQL = `
INSERT INTO chunks (source_id, chunk_index, title, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_id, chunk_index) DO UPDATE SET
    title     = EXCLUDED.title,
    content   = EXCLUDED.content,
    metadata  = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding`

// Upsert writes records in a single transaction. Either every record in
// the slice lands or none does, so callers can treat a batch as the unit
// of failure. All errors wrap ErrUpsert.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUpsert, err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	for _, rec := range records {
		if rec.SourceID == "" {
			return fmt.Errorf("%w: record with empty source_id", ErrUpsert)
		}
		if len(rec.Embedding) != VectorDim {
			return fmt.Errorf("%w: record %s/%d has embedding dimension %d, want %d",
				ErrUpsert, rec.SourceID, rec.ChunkIndex, len(rec.Embedding), VectorDim)
		}

		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata for %s/%d: %v",
				ErrUpsert, rec.SourceID, rec.ChunkIndex, err)
		}

		if _, err := tx.Exec(ctx, upsertSQL,
			rec.SourceID,
			rec.ChunkIndex,
			rec.Title,
			rec.Content,
			metaJSON,
			pgvector.NewVector(rec.Embedding),
		); err != nil {
			return fmt.Errorf("%w: exec for %s/%d: %v",
				ErrUpsert, rec.SourceID, rec.ChunkIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUpsert, err)
	}

	s.logger.Debug("upserted chunk batch", "records", len(records))
	return nil
}

const querySQL = `
SELECT source_id, chunk_index, title, content, metadata,
       1 - (embedding <=> $1) AS similarity
FROM chunks
ORDER BY embedding <=> $1, source_id, chunk_index
LIMIT $2`

// Query returns the k records nearest to vec by cosine distance, most
// similar first. Ties are broken by (source_id, chunk_index) so results
// are deterministic. All errors wrap ErrQuery.
func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	if len(vec) != VectorDim {
		return nil, fmt.Errorf("%w: query vector has dimension %d, want %d",
			ErrQuery, len(vec), VectorDim)
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrQuery, k)
	}

	rows, err := s.db.Query(ctx, querySQL, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			rec      Record
			metaJSON []byte
			sim      float64
		)
		if err := rows.Scan(&rec.SourceID, &rec.ChunkIndex, &rec.Title,
			&rec.Content, &metaJSON, &sim); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrQuery, err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal metadata for %s/%d: %v",
					ErrQuery, rec.SourceID, rec.ChunkIndex, err)
			}
		}
		results = append(results, Result{Record: rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	return results, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrQuery, err)
	}
	return n, nil
}
