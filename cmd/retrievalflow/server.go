package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/config"
	"github.com/BaSui01/retrievalflow/embedding"
	"github.com/BaSui01/retrievalflow/index"
	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/internal/metrics"
	"github.com/BaSui01/retrievalflow/internal/server"
	"github.com/BaSui01/retrievalflow/internal/telemetry"
	"github.com/BaSui01/retrievalflow/pipeline"
	"github.com/BaSui01/retrievalflow/rerank"
	"github.com/BaSui01/retrievalflow/search"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 RetrievalFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 核心组件
	store    *index.Store
	meta     *index.MetaStore
	engine   *search.Engine
	ingestor *pipeline.Ingestor
	cache    *search.ResultCache

	// 服务器组（API + Metrics）
	group *server.Group

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化组件并启动 API 与 Metrics 服务器
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("retrievalflow", s.logger)

	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.startServers(); err != nil {
		return err
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int64("snapshot_version", s.store.Current().Version()),
	)

	return nil
}

// =============================================================================
// 🔧 组件初始化
// =============================================================================

func (s *Server) initComponents() error {
	// 索引仓库 + 启动时恢复最新快照
	storeCfg := index.DefaultStoreConfig()
	storeCfg.Dimensions = s.cfg.Embedding.Dimensions
	storeCfg.DataDir = s.cfg.Index.DataDir
	storeCfg.HNSW.M = s.cfg.Index.HNSWM
	storeCfg.HNSW.EfConstruction = s.cfg.Index.HNSWEfConstruction
	storeCfg.HNSW.EfSearch = s.cfg.Index.HNSWEfSearch
	storeCfg.BM25.K1 = s.cfg.Index.BM25K1
	storeCfg.BM25.B = s.cfg.Index.BM25B
	storeCfg.BM25.PhraseBoost = s.cfg.Index.PhraseBoost

	s.store = index.NewStore(storeCfg, s.logger)
	if err := s.store.LoadLatest(context.Background()); err != nil {
		// 损坏的快照不阻止启动，从空索引开始服务
		s.logger.Error("failed to load persisted snapshot, starting empty", zap.Error(err))
	}

	// 分块元数据库
	meta, err := index.NewMetaStore(index.MetaStoreConfig{Path: s.cfg.Index.MetaPath}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	s.meta = meta

	// 嵌入网关
	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    s.cfg.Embedding.BaseURL,
		APIKey:     s.cfg.Embedding.APIKey,
		Model:      s.cfg.Embedding.Model,
		Dimensions: s.cfg.Embedding.Dimensions,
		Timeout:    s.cfg.Embedding.Timeout,
	})
	gatewayCfg := embedding.DefaultGatewayConfig()
	gatewayCfg.BatchSize = s.cfg.Embedding.BatchSize
	gatewayCfg.MaxRetries = s.cfg.Embedding.MaxRetries
	gatewayCfg.RateLimitRPS = s.cfg.Embedding.RateLimitRPS
	gateway := embedding.NewGateway(provider, gatewayCfg, s.logger)

	// 分块器
	chunker, err := ingest.NewChunkBuilder(ingest.ChunkingConfig{
		Size:              s.cfg.Chunking.Size,
		Overlap:           s.cfg.Chunking.Overlap,
		MinChunkTokens:    s.cfg.Chunking.MinChunkTokens,
		BoundaryTolerance: s.cfg.Chunking.BoundaryTolerance,
	}, ingest.NewDefaultTokenizer(""), s.logger)
	if err != nil {
		return fmt.Errorf("invalid chunking config: %w", err)
	}

	s.ingestor = pipeline.NewIngestor(chunker, gateway, s.store, s.meta, s.metricsCollector, s.logger)

	// 结果缓存（Redis 不可用时直接跳过缓存层）
	cache, err := search.NewResultCache(search.CacheConfig{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
		TTL:      s.cfg.Redis.CacheTTL,
		PoolSize: s.cfg.Redis.PoolSize,
	}, s.logger)
	if err != nil {
		s.logger.Warn("result cache unavailable, serving without cache", zap.Error(err))
	} else {
		s.cache = cache
	}

	// 查询引擎
	engineOpts := []search.EngineOption{
		search.WithMetrics(s.metricsCollector),
		search.WithRewriter(search.NewSynonymRewriter()),
	}
	if s.cache != nil {
		engineOpts = append(engineOpts, search.WithCache(s.cache))
	}
	if s.cfg.Rerank.Enabled && s.cfg.Rerank.APIKey != "" {
		relevance := rerank.NewOpenAIProvider(rerank.OpenAIConfig{
			BaseURL: s.cfg.Rerank.BaseURL,
			APIKey:  s.cfg.Rerank.APIKey,
			Model:   s.cfg.Rerank.Model,
			Timeout: s.cfg.Rerank.Timeout,
		})
		reranker := rerank.NewLLMReranker(relevance, rerank.Config{
			MaxCandidates:      s.cfg.Rerank.MaxCandidates,
			RationaleMaxLength: s.cfg.Rerank.RationaleMaxLength,
		}, s.logger)
		engineOpts = append(engineOpts, search.WithReranker(reranker))
		s.logger.Info("reranker enabled", zap.String("model", s.cfg.Rerank.Model))
	}

	s.engine = search.NewEngine(s.store, gateway, search.EngineConfig{
		Alpha:             s.cfg.Search.Alpha,
		OverFetchFactor:   s.cfg.Search.OverFetchFactor,
		RequestTimeout:    s.cfg.Search.RequestTimeout,
		EmbedTimeout:      s.cfg.Search.EmbedTimeout,
		RerankTimeout:     s.cfg.Search.RerankTimeout,
		PreferredLicenses: s.cfg.Search.PreferredLicenses,
		LicenseBoost:      s.cfg.Search.LicenseBoost,
	}, s.logger, engineOpts...)

	s.logger.Info("components initialized")
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startServers() error {
	// API 路由
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/documents", s.handleIngest)
	mux.HandleFunc("/v1/documents/", s.handleDeleteDocument)
	mux.HandleFunc("/v1/rebuild", s.handleRebuild)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)

	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	apiManager := server.NewManager("api", handler, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	// Metrics 路由
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsManager := server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	s.group = server.NewGroup(s.logger, apiManager, metricsManager)
	return s.group.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.group != nil {
		s.group.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务与组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.group != nil {
		if err := s.group.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("cache close error", zap.Error(err))
		}
	}

	if s.meta != nil {
		if err := s.meta.Close(); err != nil {
			s.logger.Error("metadata store close error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
