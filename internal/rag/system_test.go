package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/pubrag/pubrag/internal/agent"
	"github.com/pubrag/pubrag/internal/config"
	"github.com/pubrag/pubrag/internal/ingest"
	"github.com/pubrag/pubrag/internal/log"
)

type fakeAgent struct {
	answer    string
	err       error
	fragments []string
	history   []agent.Turn
}

func (f *fakeAgent) Query(ctx context.Context, question string, history []agent.Turn) (string, error) {
	f.history = history
	return f.answer, f.err
}

func (f *fakeAgent) QueryStream(ctx context.Context, question string, history []agent.Turn, cb agent.StreamCallback) (string, error) {
	f.history = history
	if f.err != nil {
		return "", f.err
	}
	for _, frag := range f.fragments {
		chunk := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(frag)}}
		if err := cb(ctx, chunk); err != nil {
			return "", err
		}
	}
	return f.answer, nil
}

type fakeIngester struct {
	report    *ingest.Report
	err       error
	batchSize int
}

func (f *fakeIngester) Ingest(ctx context.Context, src ingest.Source) (*ingest.Report, error) {
	return f.report, f.err
}

// readySystem builds a System in the post-Initialize state with fakes.
func readySystem(a questionAgent) *System {
	s := &System{
		cfg:    &config.Config{},
		logger: log.NewNop(),
		agent:  a,
	}
	s.ready.Store(true)
	return s
}

func TestQuery_BeforeInitialize(t *testing.T) {
	s, err := New(&config.Config{}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Query(context.Background(), "q", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Query err = %v, want ErrNotInitialized", err)
	}
	if _, err := s.QueryStream(context.Background(), "q", nil, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("QueryStream err = %v, want ErrNotInitialized", err)
	}
	if _, err := s.Ingest(context.Background(), ingest.NewSliceSource(nil), 0); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Ingest err = %v, want ErrNotInitialized", err)
	}
	if _, err := s.ChunkCount(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ChunkCount err = %v, want ErrNotInitialized", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, log.NewNop()); !errors.Is(err, config.ErrConfigNil) {
		t.Errorf("err = %v, want ErrConfigNil", err)
	}
	if _, err := New(&config.Config{}, nil); err == nil {
		t.Error("nil logger accepted")
	}
}

func TestQuery(t *testing.T) {
	s := readySystem(&fakeAgent{answer: "CRISPR edits genes."})

	answer, err := s.Query(context.Background(), "what is CRISPR?", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer != "CRISPR edits genes." {
		t.Errorf("answer = %q", answer)
	}
}

func TestQuery_AbsorbsGenerationError(t *testing.T) {
	s := readySystem(&fakeAgent{err: errors.New("model exploded")})

	answer, err := s.Query(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if !strings.HasPrefix(answer, errorResponsePrefix) {
		t.Errorf("answer = %q, want %q prefix", answer, errorResponsePrefix)
	}
	if !strings.Contains(answer, "model exploded") {
		t.Errorf("answer %q does not name the failure", answer)
	}
}

func TestQuery_HistoryPassedThrough(t *testing.T) {
	fa := &fakeAgent{answer: "a2"}
	s := readySystem(fa)

	history := []agent.Turn{{Question: "q1", Answer: "a1"}}
	if _, err := s.Query(context.Background(), "q2", history); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(fa.history) != 1 || fa.history[0].Question != "q1" {
		t.Errorf("history = %+v", fa.history)
	}
}

func TestQueryStream(t *testing.T) {
	s := readySystem(&fakeAgent{
		answer:    "hello world",
		fragments: []string{"hello ", "world"},
	})

	var got []string
	cb := func(ctx context.Context, fragment string) error {
		got = append(got, fragment)
		return nil
	}

	answer, err := s.QueryStream(context.Background(), "q", nil, cb)
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	if answer != "hello world" {
		t.Errorf("answer = %q", answer)
	}
	if strings.Join(got, "") != "hello world" {
		t.Errorf("fragments = %v", got)
	}
}

func TestQueryStream_SingleErrorFragment(t *testing.T) {
	s := readySystem(&fakeAgent{err: errors.New("model exploded")})

	var got []string
	cb := func(ctx context.Context, fragment string) error {
		got = append(got, fragment)
		return nil
	}

	answer, err := s.QueryStream(context.Background(), "q", nil, cb)
	if err != nil {
		t.Fatalf("QueryStream returned error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d fragments, want exactly 1: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], errorResponsePrefix) || answer != got[0] {
		t.Errorf("fragment = %q, answer = %q", got[0], answer)
	}
}

func TestQueryStream_NilCallback(t *testing.T) {
	s := readySystem(&fakeAgent{answer: "plain"})

	answer, err := s.QueryStream(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	if answer != "plain" {
		t.Errorf("answer = %q", answer)
	}
}

func TestQueryStream_CallbackAbortAbsorbed(t *testing.T) {
	s := readySystem(&fakeAgent{
		answer:    "hello world",
		fragments: []string{"hello ", "world"},
	})

	abort := errors.New("client went away")
	cb := func(ctx context.Context, fragment string) error { return abort }

	answer, err := s.QueryStream(context.Background(), "q", nil, cb)
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}
	// The aborted stream is absorbed like any other generation failure.
	if !strings.HasPrefix(answer, errorResponsePrefix) {
		t.Errorf("answer = %q", answer)
	}
}

func TestIngest_Delegates(t *testing.T) {
	s := readySystem(&fakeAgent{})
	fi := &fakeIngester{report: &ingest.Report{DocsProcessed: 3}}
	s.newPipeline = func(batchSize int) ingester {
		fi.batchSize = batchSize
		return fi
	}

	report, err := s.Ingest(context.Background(), ingest.NewSliceSource(nil), 25)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.DocsProcessed != 3 {
		t.Errorf("DocsProcessed = %d", report.DocsProcessed)
	}
	if fi.batchSize != 25 {
		t.Errorf("batchSize = %d, want 25", fi.batchSize)
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := readySystem(&fakeAgent{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Query(context.Background(), "q", nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Query after Close err = %v, want ErrNotInitialized", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("q", 300)
	if got := truncate(long); len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate length = %d", len(got))
	}
	if got := truncate("short"); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}
