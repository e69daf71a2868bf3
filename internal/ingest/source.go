// Package ingest turns source documents into embedded corpus chunks:
// chunking, batch embedding, and batched upserts with per-batch failure
// isolation.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Document is one source document to ingest. ID must be unique within
// the corpus; documents without an ID are skipped.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Source yields documents one at a time. Next returns io.EOF after the
// last document.
type Source interface {
	Next(ctx context.Context) (Document, error)
}

// JSONLSource reads documents from JSON Lines input, one Document per
// line. Blank lines are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	line    int
}

// NewJSONLSource creates a JSONLSource reading from r. Lines up to 16 MiB
// are accepted, enough for full-text articles.
func NewJSONLSource(r io.Reader) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &JSONLSource{scanner: sc}
}

// Next returns the next document, io.EOF at end of input, or a parse
// error naming the offending line.
func (s *JSONLSource) Next(ctx context.Context) (Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Document{}, fmt.Errorf("reading line %d: %w", s.line+1, err)
			}
			return Document{}, io.EOF
		}
		s.line++

		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return Document{}, fmt.Errorf("parsing line %d: %w", s.line, err)
		}
		return doc, nil
	}
}

// SliceSource yields documents from an in-memory slice. Test and
// embedding-free ingestion helper.
type SliceSource struct {
	docs []Document
	pos  int
}

// NewSliceSource creates a SliceSource over docs.
func NewSliceSource(docs []Document) *SliceSource {
	return &SliceSource{docs: docs}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if s.pos >= len(s.docs) {
		return Document{}, io.EOF
	}
	doc := s.docs[s.pos]
	s.pos++
	return doc, nil
}
