// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway assembles the search gateway service.
//
// # Description
//
// The gateway package wires every component behind the HTTP surface:
// the Elasticsearch search client, the embedding client with its TTL
// cache, the LLM assistant, the session store, the conversational
// pipeline, the search-quality logger, and the background janitor. The
// assembled Service owns their lifecycles.
//
// # Example
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := gateway.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ta-da/search-gateway/services/gateway/assistant"
	"github.com/ta-da/search-gateway/services/gateway/cache"
	"github.com/ta-da/search-gateway/services/gateway/config"
	"github.com/ta-da/search-gateway/services/gateway/embedding"
	"github.com/ta-da/search-gateway/services/gateway/handlers"
	"github.com/ta-da/search-gateway/services/gateway/janitor"
	"github.com/ta-da/search-gateway/services/gateway/observability"
	"github.com/ta-da/search-gateway/services/gateway/pipeline"
	"github.com/ta-da/search-gateway/services/gateway/routes"
	"github.com/ta-da/search-gateway/services/gateway/search"
	"github.com/ta-da/search-gateway/services/gateway/searchlog"
	"github.com/ta-da/search-gateway/services/gateway/session"
)

// Wiring contracts: the concrete clients must satisfy the narrow
// interfaces the handlers and the pipeline consume.
var (
	_ handlers.ChatPipeline   = (*pipeline.Pipeline)(nil)
	_ handlers.QueryEmbedder  = (*embedding.Client)(nil)
	_ handlers.SearchEngine   = (*search.Client)(nil)
	_ handlers.EmbeddingCache = (*cache.TTLCache[[]float32])(nil)
	_ handlers.SearchLogStore = (*searchlog.Logger)(nil)
	_ pipeline.Assistant      = (*assistant.Client)(nil)
	_ pipeline.Embedder       = (*embedding.Client)(nil)
	_ pipeline.Searcher       = (*search.Client)(nil)
	_ pipeline.SessionSink    = (*session.Store)(nil)
	_ pipeline.QueryLogger    = (*searchlog.Logger)(nil)
)

// =============================================================================
// Service
// =============================================================================

// Service is the assembled gateway.
//
// # Thread Safety
//
// Thread-safe after construction; all fields are read-only once New()
// returns.
type Service struct {
	cfg           *config.Settings
	router        *gin.Engine
	janitor       *janitor.Scheduler
	janitorCtx    context.Context
	janitorCancel context.CancelFunc
	tracerCleanup func(context.Context)
}

// New builds the service from validated settings.
//
// # Description
//
// New initializes, in order: tracing (skipped when no OTLP endpoint is
// configured), metrics, the Elasticsearch client, the embedding client
// and its vector cache, the LLM assistant, the session store, the
// search-quality logger, the conversational pipeline, the janitor, and
// finally the HTTP router. A failing search-log directory downgrades to
// disabled quality logging rather than aborting startup.
//
// # Inputs
//
//   - cfg: Settings from config.Load(). Must be non-nil.
//
// # Outputs
//
//   - *Service: Ready to Run().
//   - error: Non-nil when a hard dependency cannot be constructed.
func New(cfg *config.Settings) (*Service, error) {
	s := &Service{cfg: cfg}

	cleanup, err := initTracer(cfg.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	metrics := observability.InitMetrics()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ElasticURL},
		Username:  cfg.ElasticUser,
		Password:  cfg.ElasticPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeoutDuration()}

	vectorCache, err := cache.New[[]float32](cfg.EmbedCacheSize, cfg.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}

	embedder := embedding.NewClient(embedding.Config{
		APIURL:        cfg.EmbeddingAPIURL,
		Model:         cfg.EmbeddingModel,
		Dimension:     cfg.VectorDimension,
		MaxConcurrent: cfg.EmbeddingMaxConcurrent,
		SingleTimeout: cfg.EmbeddingTimeout(),
		MaxRetries:    cfg.MaxRetries,
	}, httpClient, vectorCache, metrics)

	searcher := search.NewClient(es, search.Config{
		IndexName:     cfg.IndexName,
		VectorField:   cfg.VectorFieldName,
		NumCandidates: cfg.KNNNumCandidates,
		BM25MinScore:  cfg.BM25MinScore,
		HybridAlpha:   cfg.HybridAlpha,
		Fusion:        cfg.HybridFusion,
	}, metrics)

	var openaiAPI *openai.Client
	if cfg.EnableGPTChat {
		apiCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			apiCfg.BaseURL = cfg.OpenAIBaseURL
		}
		openaiAPI = openai.NewClientWithConfig(apiCfg)
	}
	llm := assistant.NewClient(openaiAPI, assistant.Config{
		Enabled:          cfg.EnableGPTChat,
		Model:            cfg.GPTModel,
		Temperature:      cfg.GPTTemperature,
		AnalyzeTimeout:   cfg.AnalyzeTimeout(),
		RecoTimeout:      cfg.RecoTimeout(),
		MaxTokensAnalyze: cfg.GPTMaxTokensAnalyze,
		MaxTokensReco:    cfg.GPTMaxTokensReco,
	}, metrics)

	sessions := session.New(session.Config{
		MaxSessions:  cfg.MaxSessions,
		SessionTTL:   cfg.SessionTTL(),
		MaxHistory:   cfg.MaxSearchHistory,
		HistoryTTL:   cfg.HistoryTTL(),
		DefaultBatch: cfg.LoadMoreBatchSize,
	})

	queryLog, err := searchlog.New(cfg.SearchLogsDir)
	if err != nil {
		slog.Warn("Search-quality logging disabled", "dir", cfg.SearchLogsDir, "error", err)
		queryLog = nil
	}

	chatPipeline := pipeline.New(pipeline.Config{
		SubqueryWeightDecay: cfg.ChatSearchSubqueryWeightDecay,
		MaxKPerSubquery:     cfg.ChatSearchMaxKPerSubquery,
		MinScoreAbsolute:    cfg.ChatSearchMinScoreAbsolute,
		MaxDisplayItems:     cfg.MaxChatDisplayItems,
	}, llm, embedder, searcher, sessions, nil, queryLogOrNil(queryLog), metrics)

	s.janitor = janitor.New(janitor.Config{Interval: cfg.CleanupInterval()},
		janitor.Target{Name: "embedding_cache", Sweep: vectorCache.CleanupExpired},
		janitor.Target{Name: "sessions", Sweep: sessions.SweepExpired},
		janitor.Target{Name: "search_history", Sweep: sessions.SweepHistory},
	)
	s.janitorCtx, s.janitorCancel = context.WithCancel(context.Background())

	deps := &handlers.Deps{
		Settings:   cfg,
		Pipeline:   chatPipeline,
		Embedder:   embedder,
		Search:     searcher,
		Sessions:   sessions,
		Cache:      vectorCache,
		Metrics:    metrics,
		HTTPClient: httpClient,
		StartedAt:  time.Now(),
	}
	if queryLog != nil {
		deps.SearchLogs = queryLog
	}

	router := gin.Default()
	routes.SetupRoutes(router, deps)
	s.router = router

	return s, nil
}

// queryLogOrNil keeps the pipeline's QueryLogger interface nil when the
// logger failed to initialize, instead of a typed nil pointer.
func queryLogOrNil(l *searchlog.Logger) pipeline.QueryLogger {
	if l == nil {
		return nil
	}
	return l
}

// Run starts the janitor and serves HTTP until the listener fails.
func (s *Service) Run() error {
	if err := s.janitor.Start(s.janitorCtx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	slog.Info("Search gateway listening",
		"port", s.cfg.Port,
		"index", s.cfg.IndexName,
		"gpt_chat", s.cfg.EnableGPTChat)
	return s.router.Run(":" + s.cfg.Port)
}

// Router exposes the configured engine for integration tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Close stops background work and flushes the tracer.
func (s *Service) Close() {
	s.janitorCancel()
	s.janitor.Stop()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Tracing
// =============================================================================

// initTracer sets up the OTLP gRPC exporter. An empty endpoint leaves
// the global no-op tracer in place.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		return nil, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("search-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
