package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/pubrag/pubrag/internal/agent"
	"github.com/pubrag/pubrag/internal/knowledge"
	"github.com/pubrag/pubrag/internal/log"
)

type fakeRetriever struct {
	results []knowledge.Result
	err     error
	queries []string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string) ([]knowledge.Result, error) {
	f.queries = append(f.queries, question)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func toolCtx(ctx context.Context) *ai.ToolContext {
	return &ai.ToolContext{Context: ctx}
}

func sessionCtx(limit int) (context.Context, *agent.Session) {
	sess := agent.NewSession(limit)
	return agent.WithSession(context.Background(), sess), sess
}

func newCorpus(t *testing.T, ret ChunkRetriever) *Corpus {
	t.Helper()
	c, err := NewCorpus(ret, log.NewNop())
	if err != nil {
		t.Fatalf("NewCorpus: %v", err)
	}
	return c
}

func TestCorpusSearch(t *testing.T) {
	ret := &fakeRetriever{results: []knowledge.Result{
		{
			Record: knowledge.Record{
				SourceID:   "pmid-1",
				ChunkIndex: 0,
				Title:      "CRISPR review",
				Content:    "CRISPR is a gene editing tool.",
			},
			Similarity: 0.93,
		},
		{
			Record: knowledge.Record{
				SourceID:   "pmid-2",
				ChunkIndex: 3,
				Title:      "Cas9 mechanisms",
				Content:    "Cas9 cleaves double-stranded DNA.",
			},
			Similarity: 0.88,
		},
	}}
	c := newCorpus(t, ret)

	res, err := c.Search(toolCtx(context.Background()), SearchInput{Query: "what is CRISPR?"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status = %q, error = %+v", res.Status, res.Error)
	}

	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data has type %T", res.Data)
	}
	if data["result_count"] != 2 {
		t.Errorf("result_count = %v, want 2", data["result_count"])
	}
	passages, ok := data["passages"].([]map[string]any)
	if !ok || len(passages) != 2 {
		t.Fatalf("passages = %v", data["passages"])
	}
	if passages[0]["source_id"] != "pmid-1" || passages[0]["similarity"] != 0.93 {
		t.Errorf("first passage = %v", passages[0])
	}
	if passages[1]["chunk_index"] != 3 {
		t.Errorf("second passage chunk_index = %v", passages[1]["chunk_index"])
	}
	if len(ret.queries) != 1 || ret.queries[0] != "what is CRISPR?" {
		t.Errorf("retriever queries = %v", ret.queries)
	}
}

func TestCorpusSearch_RecordsStep(t *testing.T) {
	ret := &fakeRetriever{results: []knowledge.Result{
		{Record: knowledge.Record{SourceID: "pmid-1", Content: "passage text"}},
	}}
	c := newCorpus(t, ret)

	ctx, sess := sessionCtx(5)
	if _, err := c.Search(toolCtx(ctx), SearchInput{Query: "q"}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	steps := sess.Steps()
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	if steps[0].Tool != SearchCorpusName || steps[0].Query != "q" {
		t.Errorf("step = %+v", steps[0])
	}
	if !strings.Contains(steps[0].Output, "[pmid-1] passage text") {
		t.Errorf("step output = %q", steps[0].Output)
	}
	if sess.Rounds() != 1 {
		t.Errorf("Rounds = %d, want 1", sess.Rounds())
	}
}

func TestCorpusSearch_BudgetExhausted(t *testing.T) {
	ret := &fakeRetriever{}
	c := newCorpus(t, ret)

	ctx, _ := sessionCtx(1)
	tc := toolCtx(ctx)

	if res, err := c.Search(tc, SearchInput{Query: "first"}); err != nil || res.Status != StatusSuccess {
		t.Fatalf("first call: res=%+v err=%v", res, err)
	}

	res, err := c.Search(tc, SearchInput{Query: "second"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Status != StatusError || res.Error == nil || res.Error.Code != ErrCodeBudget {
		t.Fatalf("res = %+v, want BudgetExhausted", res)
	}
	if len(ret.queries) != 1 {
		t.Errorf("retriever called %d times, want 1", len(ret.queries))
	}
}

func TestCorpusSearch_NoSessionUnbudgeted(t *testing.T) {
	ret := &fakeRetriever{}
	c := newCorpus(t, ret)
	tc := toolCtx(context.Background())

	for i := 0; i < 10; i++ {
		res, err := c.Search(tc, SearchInput{Query: "q"})
		if err != nil || res.Status != StatusSuccess {
			t.Fatalf("call %d: res=%+v err=%v", i, res, err)
		}
	}
}

func TestCorpusSearch_ValidatesQuery(t *testing.T) {
	ret := &fakeRetriever{}
	c := newCorpus(t, ret)
	tc := toolCtx(context.Background())

	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace only", "   \t\n"},
		{"too long", strings.Repeat("x", MaxQueryLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Search(tc, SearchInput{Query: tt.query})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if res.Status != StatusError || res.Error == nil || res.Error.Code != ErrCodeValidation {
				t.Errorf("res = %+v, want ValidationError", res)
			}
		})
	}
	if len(ret.queries) != 0 {
		t.Errorf("retriever called for invalid queries: %v", ret.queries)
	}
}

func TestCorpusSearch_RetrieverError(t *testing.T) {
	ret := &fakeRetriever{err: errors.New("connection refused")}
	c := newCorpus(t, ret)

	ctx, sess := sessionCtx(5)
	res, err := c.Search(toolCtx(ctx), SearchInput{Query: "q"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Status != StatusError || res.Error == nil || res.Error.Code != ErrCodeExecution {
		t.Fatalf("res = %+v, want ExecutionError", res)
	}
	if !strings.Contains(res.Error.Message, "connection refused") {
		t.Errorf("error message = %q", res.Error.Message)
	}

	// The failure still appears in the transcript so the summarizer
	// can see what was attempted.
	steps := sess.Steps()
	if len(steps) != 1 || !strings.Contains(steps[0].Output, "error:") {
		t.Errorf("steps = %+v", steps)
	}
}

func TestRecordStep_TruncatesLongOutput(t *testing.T) {
	ctx, sess := sessionCtx(5)
	recordStep(ctx, SearchCorpusName, "q", strings.Repeat("a", maxStepOutputLength+100))

	steps := sess.Steps()
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	if !strings.HasSuffix(steps[0].Output, " [truncated]") {
		t.Error("long output was not truncated")
	}
	if len(steps[0].Output) > maxStepOutputLength+len(" [truncated]") {
		t.Errorf("output length = %d", len(steps[0].Output))
	}
}

func TestNewCorpus_Validation(t *testing.T) {
	if _, err := NewCorpus(nil, log.NewNop()); err == nil {
		t.Error("nil retriever accepted")
	}
	if _, err := NewCorpus(&fakeRetriever{}, nil); err == nil {
		t.Error("nil logger accepted")
	}
}
