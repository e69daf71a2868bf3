// Package rag assembles the full question answering system: the
// embedder, vector store, retriever, ingestion pipeline, Wikipedia
// client, and reasoning agent, behind one façade.
package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pubrag/pubrag/db"
	"github.com/pubrag/pubrag/internal/agent"
	"github.com/pubrag/pubrag/internal/config"
	"github.com/pubrag/pubrag/internal/ingest"
	"github.com/pubrag/pubrag/internal/knowledge"
	"github.com/pubrag/pubrag/internal/log"
	"github.com/pubrag/pubrag/internal/observability"
	"github.com/pubrag/pubrag/internal/tools"
	"github.com/pubrag/pubrag/internal/wiki"
)

// ErrNotInitialized is returned when the system is used before
// Initialize succeeds.
var ErrNotInitialized = errors.New("system not initialized: call Initialize first")

// errorResponsePrefix fronts answers produced when generation fails.
// Query never surfaces generation errors as Go errors; callers get a
// readable answer either way.
const errorResponsePrefix = "Error generating response: "

// FragmentCallback receives answer fragments as they stream.
// Returning an error aborts the stream.
type FragmentCallback func(ctx context.Context, fragment string) error

// questionAgent is the reasoning loop behind Query and QueryStream.
type questionAgent interface {
	Query(ctx context.Context, question string, history []agent.Turn) (string, error)
	QueryStream(ctx context.Context, question string, history []agent.Turn, callback agent.StreamCallback) (string, error)
}

// ingester loads documents into the corpus.
type ingester interface {
	Ingest(ctx context.Context, src ingest.Source) (*ingest.Report, error)
}

// chunkCounter reports corpus size.
type chunkCounter interface {
	Count(ctx context.Context) (int64, error)
}

// System is the assembled pipeline. Construct with New, then call
// Initialize once before any other method. Safe for concurrent use
// after initialization. Conversation history belongs to the caller;
// the system never stores it.
type System struct {
	cfg    *config.Config
	logger log.Logger

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool

	pool        *pgxpool.Pool
	genkit      *genkit.Genkit
	agent       questionAgent
	newPipeline func(batchSize int) ingester
	store       chunkCounter
	otelCleanup func()
}

// New creates an unstarted System.
func New(cfg *config.Config, logger log.Logger) (*System, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &System{cfg: cfg, logger: logger}, nil
}

// Initialize runs migrations, connects to PostgreSQL, starts Genkit
// with the configured provider, and wires up every component. It runs
// at most once; repeated calls return the first outcome.
func (s *System) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.setup(ctx)
		if s.initErr != nil {
			if err := s.Close(); err != nil {
				s.logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	})
	if s.initErr == nil {
		s.ready.Store(true)
	}
	return s.initErr
}

func (s *System) setup(ctx context.Context) error {
	s.otelCleanup = observability.Setup(ctx, observability.Config{
		Endpoint:    s.cfg.Otel.Endpoint,
		Environment: s.cfg.Otel.Environment,
		ServiceName: s.cfg.Otel.ServiceName,
	}, s.logger)

	pool, err := providePool(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.pool = pool

	g, embedder, err := provideGenkit(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.genkit = g

	knowledgeEmbedder := knowledge.NewEmbedder(embedder)
	store := knowledge.NewStore(pool, s.logger)
	s.store = store
	retriever := knowledge.NewRetriever(knowledgeEmbedder, store, s.cfg.TopK, s.logger)

	wikiClient := wiki.New(s.cfg.Wikipedia.BaseURL, s.logger,
		wiki.WithLimit(s.cfg.Wikipedia.Limit))

	registered, err := provideTools(g, retriever, wikiClient, s.logger)
	if err != nil {
		return err
	}

	a, err := agent.New(agent.Config{
		Genkit:         g,
		ModelName:      s.cfg.FullModelName(),
		Logger:         s.logger,
		Tools:          registered,
		Temperature:    s.cfg.Temperature,
		MaxRounds:      s.cfg.MaxRounds,
		IncludeHistory: s.cfg.IncludeHistory,
	})
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	s.agent = a

	s.newPipeline = func(batchSize int) ingester {
		if batchSize <= 0 {
			batchSize = s.cfg.BatchSize
		}
		return ingest.New(knowledgeEmbedder, store, ingest.Config{
			ChunkSize:    s.cfg.ChunkSize,
			ChunkOverlap: s.cfg.ChunkOverlap,
			BatchSize:    batchSize,
		}, s.logger)
	}

	s.logger.Info("system initialized",
		"provider", s.cfg.Provider,
		"model", s.cfg.FullModelName(),
		"embedder", s.cfg.EmbedderModel,
		"top_k", s.cfg.TopK)
	return nil
}

// providePool runs migrations and opens the PostgreSQL pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured provider and
// returns the registered embedder.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, ollama.Embedder(g, cfg.OllamaHost), nil

	default: // gemini / googleai
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		if embedder == nil {
			return nil, nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
		}
		return g, embedder, nil
	}
}

// provideTools builds and registers the agent's tools.
func provideTools(g *genkit.Genkit, retriever *knowledge.Retriever, wikiClient *wiki.Client, logger log.Logger) ([]ai.Tool, error) {
	corpus, err := tools.NewCorpus(retriever, logger)
	if err != nil {
		return nil, fmt.Errorf("creating corpus tool: %w", err)
	}
	wikipedia, err := tools.NewWikipedia(wikiClient, logger)
	if err != nil {
		return nil, fmt.Errorf("creating wikipedia tool: %w", err)
	}
	registered, err := tools.Register(g, corpus, wikipedia)
	if err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return registered, nil
}

// Query answers a question. history holds the caller's prior turns and
// is used for this call only. Generation failures are absorbed into the
// answer text so callers always get something to show; the only error
// is ErrNotInitialized.
func (s *System) Query(ctx context.Context, question string, history []agent.Turn) (string, error) {
	if !s.ready.Load() {
		return "", ErrNotInitialized
	}

	answer, err := s.agent.Query(ctx, question, history)
	if err != nil {
		s.logger.Error("query failed", "question", truncate(question), "error", err)
		return errorResponsePrefix + err.Error(), nil
	}
	return answer, nil
}

// QueryStream answers a question, delivering the answer in fragments
// through callback. On generation failure the callback receives exactly
// one fragment holding the error message, and that text is returned.
func (s *System) QueryStream(ctx context.Context, question string, history []agent.Turn, callback FragmentCallback) (string, error) {
	if !s.ready.Load() {
		return "", ErrNotInitialized
	}
	if callback == nil {
		return s.Query(ctx, question, history)
	}

	streamCb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		text := chunk.Text()
		if text == "" {
			return nil
		}
		return callback(ctx, text)
	}

	answer, err := s.agent.QueryStream(ctx, question, history, streamCb)
	if err != nil {
		s.logger.Error("streaming query failed", "question", truncate(question), "error", err)
		fragment := errorResponsePrefix + err.Error()
		if cbErr := callback(ctx, fragment); cbErr != nil {
			s.logger.Warn("error fragment not delivered", "error", cbErr)
		}
		return fragment, nil
	}
	return answer, nil
}

// Ingest loads documents from src into the corpus in batches of
// batchSize records. batchSize <= 0 uses the configured default.
func (s *System) Ingest(ctx context.Context, src ingest.Source, batchSize int) (*ingest.Report, error) {
	if !s.ready.Load() {
		return nil, ErrNotInitialized
	}
	return s.newPipeline(batchSize).Ingest(ctx, src)
}

// ChunkCount reports the number of chunks stored in the corpus.
func (s *System) ChunkCount(ctx context.Context) (int64, error) {
	if !s.ready.Load() {
		return 0, ErrNotInitialized
	}
	return s.store.Count(ctx)
}

// Close releases the database pool and flushes pending traces. Safe to
// call multiple times and on a partially initialized system.
func (s *System) Close() error {
	s.ready.Store(false)
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	if s.otelCleanup != nil {
		s.otelCleanup()
		s.otelCleanup = nil
	}
	return nil
}

// truncate bounds question text in log output.
func truncate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
