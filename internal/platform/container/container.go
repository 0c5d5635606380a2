// Package container はアプリケーション全体の依存関係を組み立てます
package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/extraction"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/ingestion"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/query"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/resolution"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/summary"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
	"github.com/bmccarn/paperless-knowledge-graph/internal/infra/openai"
	"github.com/bmccarn/paperless-knowledge-graph/internal/infra/paperless"
	"github.com/bmccarn/paperless-knowledge-graph/internal/infra/postgres"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/cache"
	"github.com/bmccarn/paperless-knowledge-graph/pkg/config"
)

// ServiceContainer はコア層のサービスと共有リソースを保持します
type ServiceContainer struct {
	Pipeline   *ingestion.Pipeline
	Resolver   *resolution.Resolver
	Engine     *query.Engine
	Summarizer *summary.Summarizer
	Registry   *task.Registry
	Cache      *cache.Cache

	GraphRepo *postgres.GraphRepository
	Vectors   *postgres.VectorStore
	State     *postgres.StateStore
	Source    *paperless.Client

	logger *slog.Logger
	pool   *pgxpool.Pool
}

// New は設定からコンテナを生成します
// スキーマの初期化は接続プールの作成前に行います
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*ServiceContainer, error) {
	dsn := cfg.Database.DSN()

	if err := postgres.EnsureSchema(ctx, dsn, cfg.OpenAI.EmbeddingDimension, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	graphRepo := postgres.NewGraphRepository(pool, logger)
	vectors := postgres.NewVectorStore(pool, logger)
	state := postgres.NewStateStore(pool)

	source := paperless.NewClient(cfg.Paperless.URL, cfg.Paperless.Token)

	llmClient, err := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.LLMModel)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	embedder, err := openai.NewEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimension)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	truncator := extraction.NewTruncator(cfg.OpenAI.LLMModel)
	classifier := extraction.NewClassifier(llmClient, truncator, logger)
	extractor := extraction.NewExtractor(llmClient, truncator, logger)

	resolver := resolution.NewResolver(graphRepo, embedder, resolution.Thresholds{
		Fuzzy:        cfg.Resolver.FuzzyThreshold,
		Embedding:    cfg.Resolver.EmbeddingThreshold,
		AmbiguousLow: cfg.Resolver.AmbiguousLow,
		ShortName:    cfg.Resolver.ShortNameThreshold,
	}, logger)

	pipeline := ingestion.NewPipeline(ingestion.Deps{
		Source:        source,
		Classifier:    classifier,
		Extractor:     extractor,
		Resolver:      resolver,
		GraphRepo:     graphRepo,
		Vectors:       vectors,
		Embedder:      embedder,
		SyncState:     state,
		Hashes:        state,
		MaxConcurrent: cfg.MaxConcurrentDocs,
		Logger:        logger,
	})

	c := cache.New(cache.Config{
		QueryTTL:  time.Duration(cfg.Cache.QueryTTL) * time.Second,
		VectorTTL: time.Duration(cfg.Cache.VectorTTL) * time.Second,
		GraphTTL:  time.Duration(cfg.Cache.GraphTTL) * time.Second,
		EntityTTL: time.Duration(cfg.Cache.EntityTTL) * time.Second,
	})

	engine := query.NewEngine(vectors, graphRepo, embedder, llmClient, c, query.Options{
		MaxGapRounds:        cfg.Query.MaxGapRounds,
		ExpansionDepth:      cfg.Query.ExpansionDepth,
		ExpansionNodeBudget: cfg.Query.ExpansionNodeBudget,
		RetrievalTimeout:    time.Duration(cfg.Query.RetrievalTimeoutSeconds) * time.Second,
	}, logger)

	summarizer := summary.NewSummarizer(graphRepo, llmClient, logger)

	registry := task.NewRegistry(task.DefaultRetention, logger)

	return &ServiceContainer{
		Pipeline:   pipeline,
		Resolver:   resolver,
		Engine:     engine,
		Summarizer: summarizer,
		Registry:   registry,
		Cache:      c,
		GraphRepo:  graphRepo,
		Vectors:    vectors,
		State:      state,
		Source:     source,
		logger:     logger,
		pool:       pool,
	}, nil
}

// Close は内部リソースを解放します
func (c *ServiceContainer) Close() {
	if c != nil && c.pool != nil {
		c.pool.Close()
	}
}

// Logger はロガーを返します
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
