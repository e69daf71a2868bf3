// Package agent implements the reasoning loop that answers questions
// with tool calls: corpus retrieval first, Wikipedia as fallback, under
// a hard per-question tool-round budget.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/pubrag/pubrag/internal/log"
)

const (
	// FallbackResponseMessage is returned when the model produces an
	// empty response with no tool requests.
	FallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

	// systemPrompt steers the tool loop.
	systemPrompt = `You are a biomedical research assistant. Answer questions using evidence.

Always call search_corpus first to look for relevant passages in the local literature corpus. If the corpus has nothing useful, call search_wikipedia as a fallback. Base your answer only on tool results; if neither source helps, say you don't know. Mention which source supported the answer.`

	// summarizerPrompt steers the second, streaming pass.
	summarizerPrompt = `You summarize research findings. Given a question, a research log of tool calls, and a draft answer, write the final answer for the user. Be faithful to the log; do not invent sources.`
)

// Turn is one prior question/answer exchange.
type Turn struct {
	Question string
	Answer   string
}

// StreamCallback receives response chunks as they are generated.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// generateFunc abstracts genkit.Generate so tests can script responses.
type generateFunc func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error)

// Config contains all required parameters for the Agent.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // Provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    log.Logger
	Tools     []ai.Tool // Pre-registered tools (see tools.Register)

	Temperature    float32
	MaxRounds      int  // Tool-round budget per question
	IncludeHistory bool // Fold prior turns into the model context

	// Resilience configuration (zero values use defaults)
	RetryConfig   RetryConfig
	BreakerConfig BreakerConfig
	RateLimiter   *rate.Limiter // nil = default 10 req/s, burst 30
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	return nil
}

// Agent answers questions through a model tool loop. It is stateless
// across questions; each Query gets a fresh Session, so concurrent use
// is safe.
type Agent struct {
	generate generateFunc

	modelName      string
	temperature    float32
	maxRounds      int
	includeHistory bool

	toolRefs  []ai.ToolRef
	toolNames string // comma-separated, for logging

	retryConfig RetryConfig
	breaker     *Breaker
	rateLimiter *rate.Limiter

	logger log.Logger
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	g := cfg.Genkit
	a := &Agent{
		generate: func(ctx context.Context, opts ...ai.GenerateOption) (*ai.ModelResponse, error) {
			return genkit.Generate(ctx, g, opts...)
		},
		modelName:      cfg.ModelName,
		temperature:    cfg.Temperature,
		maxRounds:      maxRounds,
		includeHistory: cfg.IncludeHistory,
		toolRefs:       toolRefs,
		toolNames:      strings.Join(names, ", "),
		retryConfig:    retryConfig,
		breaker:        NewBreaker(cfg.BreakerConfig),
		rateLimiter:    rl,
		logger:         cfg.Logger,
	}

	a.logger.Info("agent initialized",
		"model", a.modelName,
		"tools", a.toolNames,
		"max_rounds", a.maxRounds)

	return a, nil
}

// Query answers question in one pass: the model may call tools up to
// the round budget, then produces the final text.
func (a *Agent) Query(ctx context.Context, question string, history []Turn) (string, error) {
	answer, _, err := a.run(ctx, question, history)
	return answer, err
}

// QueryStream answers question in two passes. The tool loop runs
// without streaming; its tool transcript and draft answer then feed a
// single streaming summarization call whose chunks go to callback.
// The returned string is the full streamed text.
func (a *Agent) QueryStream(ctx context.Context, question string, history []Turn, callback StreamCallback) (string, error) {
	if callback == nil {
		return a.Query(ctx, question, history)
	}

	answer, sess, err := a.run(ctx, question, history)
	if err != nil {
		return "", err
	}

	prompt := summaryRequest(question, sess.Transcript(), answer)
	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(summarizerPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
		ai.WithConfig(map[string]any{"temperature": a.temperature}),
		ai.WithStreaming(callback),
	}

	resp, err := a.guardedGenerate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("streaming summary: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		text = answer
	}
	return text, nil
}

// run executes the tool loop and returns the draft answer plus the
// session holding the tool transcript.
func (a *Agent) run(ctx context.Context, question string, history []Turn) (string, *Session, error) {
	sess := NewSession(a.maxRounds)
	ctx = WithSession(ctx, sess)

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(a.buildMessages(question, history)...),
		ai.WithTools(a.toolRefs...),
		ai.WithMaxTurns(a.maxRounds),
		ai.WithConfig(map[string]any{"temperature": a.temperature}),
	}

	a.logger.Debug("running tool loop",
		"question_length", len(question),
		"history_turns", len(history),
		"max_rounds", a.maxRounds)

	resp, err := a.guardedGenerate(ctx, opts)
	if err != nil {
		return "", nil, err
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" && len(resp.ToolRequests()) == 0 {
		a.logger.Warn("model returned empty response with no tool requests")
		text = FallbackResponseMessage
	}

	a.logger.Debug("tool loop finished",
		"rounds_used", sess.Rounds(),
		"answer_length", len(text))

	return text, sess, nil
}

// guardedGenerate wraps executeWithRetry with the circuit breaker.
func (a *Agent) guardedGenerate(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	if err := a.breaker.Allow(); err != nil {
		a.logger.Warn("circuit breaker is open, rejecting request",
			"state", a.breaker.State().String())
		return nil, fmt.Errorf("service unavailable: %w", err)
	}

	resp, err := a.executeWithRetry(ctx, opts)
	if err != nil {
		a.breaker.Failure()
		return nil, err
	}

	a.breaker.Success()
	return resp, nil
}

// buildMessages folds prior turns (when enabled) and appends the
// current question.
func (a *Agent) buildMessages(question string, history []Turn) []*ai.Message {
	var msgs []*ai.Message
	if a.includeHistory {
		for _, t := range history {
			msgs = append(msgs,
				ai.NewUserMessage(ai.NewTextPart(t.Question)),
				ai.NewModelMessage(ai.NewTextPart(t.Answer)))
		}
	}
	return append(msgs, ai.NewUserMessage(ai.NewTextPart(question)))
}

// summaryRequest builds the user prompt for the streaming pass.
func summaryRequest(question, transcript, answer string) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	if transcript != "" {
		b.WriteString("\n\nResearch log:\n")
		b.WriteString(transcript)
	}
	b.WriteString("\n\nDraft answer:\n")
	b.WriteString(answer)
	return b.String()
}
