package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/pubrag/pubrag/internal/log"
	"github.com/pubrag/pubrag/internal/wiki"
)

// SearchWikipediaName is the Genkit tool name for the Wikipedia fallback.
const SearchWikipediaName = "search_wikipedia"

// WikipediaSearcher searches Wikipedia articles.
type WikipediaSearcher interface {
	Search(ctx context.Context, query string) ([]wiki.Hit, error)
}

// Wikipedia holds dependencies for the search_wikipedia handler.
type Wikipedia struct {
	client WikipediaSearcher
	logger log.Logger
}

// NewWikipedia creates a Wikipedia tool handler.
func NewWikipedia(client WikipediaSearcher, logger log.Logger) (*Wikipedia, error) {
	if client == nil {
		return nil, fmt.Errorf("wikipedia client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Wikipedia{client: client, logger: logger}, nil
}

// Search looks up the query on Wikipedia. Same budget rules as
// search_corpus: one round per call.
func (w *Wikipedia) Search(ctx *ai.ToolContext, input SearchInput) (Result, error) {
	w.logger.Info("search_wikipedia called", "query", input.Query)

	if res, ok := reserveRound(ctx, w.logger); !ok {
		return res, nil
	}
	if res, ok := validateQuery(input.Query); !ok {
		return res, nil
	}

	hits, err := w.client.Search(ctx, input.Query)
	if err != nil {
		w.logger.Warn("search_wikipedia failed", "query", input.Query, "error", err)
		recordStep(ctx, SearchWikipediaName, input.Query, "error: "+err.Error())
		return errorResult(ErrCodeExecution, fmt.Sprintf("searching wikipedia: %v", err)), nil
	}

	articles := make([]map[string]any, len(hits))
	var outputs []string
	for i, h := range hits {
		articles[i] = map[string]any{
			"title":   h.Title,
			"snippet": h.Snippet,
			"url":     h.URL,
		}
		outputs = append(outputs, fmt.Sprintf("%s: %s", h.Title, h.Snippet))
	}

	recordStep(ctx, SearchWikipediaName, input.Query, strings.Join(outputs, "\n"))

	w.logger.Info("search_wikipedia succeeded", "query", input.Query, "result_count", len(hits))
	return Result{
		Status: StatusSuccess,
		Data: map[string]any{
			"query":        input.Query,
			"result_count": len(hits),
			"articles":     articles,
		},
	}, nil
}
