package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/askdoc/askdoc/db"
	"github.com/askdoc/askdoc/internal/api"
	"github.com/askdoc/askdoc/internal/chat"
	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/document"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/retrieval"
	"github.com/askdoc/askdoc/internal/storage"
)

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 10 * time.Second

// defaultModelRPM is the proactive throttle on Gemini calls.
const defaultModelRPM = 60

// Setup creates and initializes the application.
// On failure everything already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelShutdown = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	blobs, err := storage.New(cfg.StorageDir, logger)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	a.Blobs = blobs

	client, err := llm.New(ctx, llm.Config{
		APIKey:            os.Getenv("GEMINI_API_KEY"),
		Model:             cfg.ModelName,
		EmbedderModel:     cfg.EmbedderModel,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		RequestsPerMinute: defaultModelRPM,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.LLM = client

	a.Documents = document.NewStore(pool, logger)
	a.Chunks = retrieval.NewStore(pool, logger)
	a.Conversations = conversation.NewStore(pool, logger)

	chunker := document.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	a.Indexer = document.NewIndexer(a.Documents, a.Chunks, a.Blobs, a.LLM, chunker, logger)

	// Pick up documents left pending by a previous run.
	if err := a.Indexer.Resume(ctx); err != nil {
		logger.Warn("failed to resume pending documents", "error", err)
	}

	a.Assistant = chat.New(a.Documents, a.Conversations, a.Chunks, a.LLM, chat.Config{
		TopK:       cfg.RetrievalTopK,
		MaxHistory: config.NormalizeMaxHistoryMessages(cfg.MaxHistoryMessages),
	}, logger)

	a.Server = api.NewServer(api.Config{
		HMACSecret:     cfg.HMACSecret,
		CORSOrigins:    cfg.CORSOrigins,
		TrustProxy:     cfg.TrustProxy,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, a.Documents, a.Blobs, a.Indexer, a.Conversations, a.Assistant, pool, logger)

	return a, nil
}

// provideOtelShutdown configures OTLP trace export. An empty endpoint
// disables tracing; the returned shutdown func is always safe to call.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	endpoint := cfg.Tracing.Endpoint
	if endpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = "askdoc"
	}
	environment := cfg.Tracing.Environment
	if environment == "" {
		environment = "dev"
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		)),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", environment,
	)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
