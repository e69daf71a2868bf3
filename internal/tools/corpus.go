package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/pubrag/pubrag/internal/agent"
	"github.com/pubrag/pubrag/internal/knowledge"
	"github.com/pubrag/pubrag/internal/log"
)

// SearchCorpusName is the Genkit tool name for corpus retrieval.
const SearchCorpusName = "search_corpus"

// MaxQueryLength bounds tool query strings.
const MaxQueryLength = 2000

// maxStepOutputLength bounds the output recorded in the session
// transcript, which later feeds the summarization prompt.
const maxStepOutputLength = 4000

// SearchInput is the input for both search tools.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query string"`
}

// ChunkRetriever finds corpus chunks relevant to a question.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, question string) ([]knowledge.Result, error)
}

// Corpus holds dependencies for the search_corpus handler.
type Corpus struct {
	retriever ChunkRetriever
	logger    log.Logger
}

// NewCorpus creates a Corpus tool handler.
func NewCorpus(retriever ChunkRetriever, logger log.Logger) (*Corpus, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Corpus{retriever: retriever, logger: logger}, nil
}

// Search retrieves the most similar corpus chunks for the query. Each
// call consumes one round of the question's tool budget; once the
// budget is spent the tool refuses with ErrCodeBudget.
func (c *Corpus) Search(ctx *ai.ToolContext, input SearchInput) (Result, error) {
	c.logger.Info("search_corpus called", "query", input.Query)

	if res, ok := reserveRound(ctx, c.logger); !ok {
		return res, nil
	}
	if res, ok := validateQuery(input.Query); !ok {
		return res, nil
	}

	results, err := c.retriever.Retrieve(ctx, input.Query)
	if err != nil {
		c.logger.Warn("search_corpus failed", "query", input.Query, "error", err)
		recordStep(ctx, SearchCorpusName, input.Query, "error: "+err.Error())
		return errorResult(ErrCodeExecution, fmt.Sprintf("searching corpus: %v", err)), nil
	}

	passages := make([]map[string]any, len(results))
	var outputs []string
	for i, r := range results {
		passages[i] = map[string]any{
			"source_id":   r.Record.SourceID,
			"chunk_index": r.Record.ChunkIndex,
			"title":       r.Record.Title,
			"content":     r.Record.Content,
			"similarity":  r.Similarity,
		}
		outputs = append(outputs, fmt.Sprintf("[%s] %s", r.Record.SourceID, r.Record.Content))
	}

	recordStep(ctx, SearchCorpusName, input.Query, strings.Join(outputs, "\n"))

	c.logger.Info("search_corpus succeeded", "query", input.Query, "result_count", len(results))
	return Result{
		Status: StatusSuccess,
		Data: map[string]any{
			"query":        input.Query,
			"result_count": len(results),
			"passages":     passages,
		},
	}, nil
}

// reserveRound claims one tool round from the question's session.
// Calls without a session (direct tool invocation) are not budgeted.
func reserveRound(ctx context.Context, logger log.Logger) (Result, bool) {
	sess, ok := agent.SessionFromContext(ctx)
	if !ok {
		return Result{}, true
	}
	if err := sess.Reserve(); err != nil {
		logger.Warn("tool round budget exhausted", "rounds", sess.Rounds())
		return errorResult(ErrCodeBudget,
			"tool round budget exhausted; answer with the information gathered so far"), false
	}
	return Result{}, true
}

// validateQuery checks the query string bounds.
func validateQuery(query string) (Result, bool) {
	if strings.TrimSpace(query) == "" {
		return errorResult(ErrCodeValidation, "query must not be empty"), false
	}
	if len(query) > MaxQueryLength {
		return errorResult(ErrCodeValidation,
			fmt.Sprintf("query length %d exceeds maximum %d", len(query), MaxQueryLength)), false
	}
	return Result{}, true
}

// recordStep logs the tool call into the session transcript.
func recordStep(ctx context.Context, tool, query, output string) {
	sess, ok := agent.SessionFromContext(ctx)
	if !ok {
		return
	}
	if len(output) > maxStepOutputLength {
		output = output[:maxStepOutputLength] + " [truncated]"
	}
	sess.Record(agent.Step{Tool: tool, Query: query, Output: output})
}
