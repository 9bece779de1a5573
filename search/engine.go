package search

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/retrievalflow/index"
	"github.com/BaSui01/retrievalflow/internal/metrics"
	"github.com/BaSui01/retrievalflow/internal/telemetry"
	"github.com/BaSui01/retrievalflow/rerank"
	"github.com/BaSui01/retrievalflow/types"
)

// QueryEmbedder 查询嵌入能力，由 embedding.Gateway 实现.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
}

// EngineConfig 查询引擎配置.
type EngineConfig struct {
	// Alpha 向量侧融合权重，fused = alpha*vector + (1-alpha)*lexical
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// OverFetchFactor 过滤前的过量拉取倍数
	OverFetchFactor int `yaml:"over_fetch_factor" json:"over_fetch_factor"`

	// RequestTimeout 整体请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// EmbedTimeout 查询嵌入子调用超时
	EmbedTimeout time.Duration `yaml:"embed_timeout" json:"embed_timeout"`

	// RerankTimeout 重排序子调用超时
	RerankTimeout time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`

	// PreferredLicenses 加权许可列表
	PreferredLicenses []string `yaml:"preferred_licenses" json:"preferred_licenses"`

	// LicenseBoost 首选许可的分数乘数
	LicenseBoost float64 `yaml:"license_boost" json:"license_boost"`
}

// DefaultEngineConfig 返回默认引擎配置.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Alpha:             0.6,
		OverFetchFactor:   3,
		RequestTimeout:    10 * time.Second,
		EmbedTimeout:      3 * time.Second,
		RerankTimeout:     5 * time.Second,
		PreferredLicenses: []string{"MIT", "Apache-2.0", "BSD-3-Clause"},
		LicenseBoost:      1.0,
	}
}

// Engine 混合查询引擎.
// 管线：校验 → 缓存 → 改写 → 双索引扇出 → 融合 → 过滤 →
// 截断 → 重排序 → 回填缓存。嵌入与重排序均为可降级阶段.
type Engine struct {
	store    *index.Store
	embedder QueryEmbedder
	reranker rerank.Reranker
	rewriter Rewriter
	cache    *ResultCache
	metrics  *metrics.Collector
	config   EngineConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// EngineOption 引擎可选依赖.
type EngineOption func(*Engine)

// WithReranker 设置重排序器.
func WithReranker(r rerank.Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithRewriter 设置查询改写器.
func WithRewriter(r Rewriter) EngineOption {
	return func(e *Engine) { e.rewriter = r }
}

// WithCache 设置结果缓存.
func WithCache(c *ResultCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics 设置指标收集器.
func WithMetrics(m *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 创建查询引擎.
func NewEngine(store *index.Store, embedder QueryEmbedder, config EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if config.Alpha <= 0 || config.Alpha >= 1 {
		config.Alpha = 0.6
	}
	if config.OverFetchFactor < 1 {
		config.OverFetchFactor = 3
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.EmbedTimeout <= 0 {
		config.EmbedTimeout = 3 * time.Second
	}
	if config.RerankTimeout <= 0 {
		config.RerankTimeout = 5 * time.Second
	}
	if config.LicenseBoost < 1.0 {
		config.LicenseBoost = 1.0
	}

	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger.With(zap.String("component", "search_engine")),
		tracer:   telemetry.Tracer("search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search 执行一次检索请求.
// INVALID_REQUEST 是唯一对调用方可见的失败；可选阶段的故障都以
// Degraded / RerankApplied 标志呈现.
func (e *Engine) Search(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if err := req.Normalize(); err != nil {
		if e.metrics != nil {
			e.metrics.RecordSearch(string(req.Mode), "invalid", time.Since(start), 0)
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "search",
		trace.WithAttributes(
			attribute.String("search.mode", string(req.Mode)),
			attribute.Int("search.top_k", req.TopK),
		))
	defer span.End()

	snapshot := e.store.Current()

	// 缓存命中要求快照版本一致
	var cacheKey string
	if e.cache != nil {
		cacheKey = CacheKey(req)
		if cached, err := e.cache.Get(ctx, cacheKey, snapshot.Version()); err == nil {
			cached.Cached = true
			cached.SearchTimeMS = time.Since(start).Milliseconds()
			if e.metrics != nil {
				e.metrics.RecordCacheHit("search_result")
				e.metrics.RecordSearch(string(req.Mode), "ok", time.Since(start), len(cached.Results))
			}
			span.SetAttributes(attribute.Bool("search.cached", true))
			return cached, nil
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss("search_result")
		}
	}

	// 改写失败回退原始查询
	query := req.Query
	if e.rewriter != nil {
		if rewritten, err := e.rewriter.Rewrite(ctx, req.Query); err != nil {
			e.logger.Warn("query rewrite failed, using raw query", zap.Error(err))
		} else {
			query = rewritten
		}
	}

	resp := &Response{RerankApplied: false}
	fetchK := req.TopK * e.config.OverFetchFactor

	var vectorHits []index.VectorHit
	var lexicalHits []index.LexicalHit

	g, gctx := errgroup.WithContext(ctx)

	if req.Mode == ModeVector || req.Mode == ModeHybrid {
		g.Go(func() error {
			embedCtx, embedCancel := context.WithTimeout(gctx, e.config.EmbedTimeout)
			defer embedCancel()

			queryVec, err := e.embedder.EmbedQuery(embedCtx, query)
			if err != nil {
				// 嵌入不可用：向量侧为空并打降级标志，请求继续
				if types.IsCode(err, types.ErrEmbeddingUnavailable) || embedCtx.Err() != nil {
					e.logger.Warn("embedding unavailable, degrading to lexical", zap.Error(err))
					resp.Degraded = true
					if e.metrics != nil {
						e.metrics.RecordDegraded("embedding_unavailable")
					}
					return nil
				}
				return err
			}

			hits, err := snapshot.VectorSearch(queryVec, fetchK)
			if err != nil {
				return err
			}
			vectorHits = hits
			return nil
		})
	}

	if req.Mode == ModeLexical || req.Mode == ModeHybrid {
		g.Go(func() error {
			lexicalHits = snapshot.LexicalSearch(query, fetchK)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("search fan-out failed", zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordSearch(string(req.Mode), "error", time.Since(start), 0)
		}
		return nil, err
	}

	// 融合、过滤、许可加权、截断
	candidates := fuse(req.Mode, e.config.Alpha, vectorHits, lexicalHits)
	candidates = e.filter(snapshot, candidates, req.Filters)
	e.applyLicenseBoost(snapshot, candidates)
	sortCandidates(candidates)
	if len(candidates) > req.TopK {
		candidates = candidates[:req.TopK]
	}

	results := e.materialize(snapshot, candidates)

	// 尽力而为的重排序
	if e.reranker != nil && len(results) > 0 {
		e.applyRerank(ctx, query, results, req.IncludeRationale, resp)
	} else if e.metrics != nil && len(results) > 0 {
		e.metrics.RecordRerank("skipped")
	}

	resp.Results = results
	resp.TotalResults = len(results)
	resp.SearchTimeMS = time.Since(start).Milliseconds()

	// 降级响应不进缓存，嵌入恢复后立即回到全质量结果
	if e.cache != nil && !resp.Degraded {
		e.cache.Set(ctx, cacheKey, snapshot.Version(), resp)
	}

	if e.metrics != nil {
		e.metrics.RecordSearch(string(req.Mode), "ok", time.Since(start), len(results))
	}
	span.SetAttributes(
		attribute.Int("search.results", len(results)),
		attribute.Bool("search.degraded", resp.Degraded),
		attribute.Bool("search.rerank_applied", resp.RerankApplied),
	)

	return resp, nil
}

// filter 应用墓碑与元数据过滤.
func (e *Engine) filter(snapshot *index.Snapshot, cands []candidate, filters Filters) []candidate {
	filtered := cands[:0]
	for _, c := range cands {
		if e.store.IsDeleted(c.ChunkID) {
			continue
		}
		chunk, ok := snapshot.Chunk(c.ChunkID)
		if !ok {
			continue
		}

		if len(filters.Licenses) > 0 && !containsString(filters.Licenses, chunk.Provenance.License) {
			continue
		}
		if len(filters.Tags) > 0 && !containsAll(chunk.Tags, filters.Tags) {
			continue
		}
		if filters.MinQualityScore != nil {
			quality := 0.0
			if chunk.QualityScore != nil {
				quality = *chunk.QualityScore
			}
			if quality < *filters.MinQualityScore {
				continue
			}
		}

		filtered = append(filtered, c)
	}
	return filtered
}

// applyLicenseBoost 为首选许可的分块加权.
func (e *Engine) applyLicenseBoost(snapshot *index.Snapshot, cands []candidate) {
	if e.config.LicenseBoost <= 1.0 || len(e.config.PreferredLicenses) == 0 {
		return
	}
	for i := range cands {
		chunk, ok := snapshot.Chunk(cands[i].ChunkID)
		if !ok {
			continue
		}
		if containsString(e.config.PreferredLicenses, chunk.Provenance.License) {
			cands[i].FusedScore *= e.config.LicenseBoost
		}
	}
}

// materialize 将候选转换为响应结果.
func (e *Engine) materialize(snapshot *index.Snapshot, cands []candidate) []Result {
	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		chunk, ok := snapshot.Chunk(c.ChunkID)
		if !ok {
			continue
		}
		results = append(results, Result{
			ChunkID:      c.ChunkID,
			Text:         chunk.Text,
			FusedScore:   c.FusedScore,
			MatchedTerms: c.MatchedTerms,
			Provenance:   chunk.Provenance,
		})
	}
	return results
}

// applyRerank 带超时执行重排序；失败保留融合排序.
func (e *Engine) applyRerank(ctx context.Context, query string, results []Result, includeRationale bool, resp *Response) {
	rerankCtx, cancel := context.WithTimeout(ctx, e.config.RerankTimeout)
	defer cancel()

	candidates := make([]rerank.Candidate, len(results))
	for i, r := range results {
		candidates[i] = rerank.Candidate{ChunkID: r.ChunkID, Text: r.Text, Score: r.FusedScore}
	}

	ranked, err := e.reranker.Rerank(rerankCtx, query, candidates, includeRationale)
	if err != nil {
		outcome := "failed"
		if types.IsCode(err, types.ErrRerankTimeout) {
			outcome = "timeout"
		}
		e.logger.Warn("rerank skipped", zap.String("outcome", outcome), zap.Error(err))
		if e.metrics != nil {
			e.metrics.RecordRerank(outcome)
		}
		return
	}

	byID := make(map[string]rerank.Ranked, len(ranked))
	for _, item := range ranked {
		byID[item.ChunkID] = item
	}
	for i := range results {
		if item, ok := byID[results[i].ChunkID]; ok {
			score := item.RerankScore
			results[i].RerankScore = &score
			results[i].Rationale = item.Rationale
		}
	}

	// 重排序分数优先，同分按 ChunkID 升序
	sort.Slice(results, func(i, j int) bool {
		si, sj := results[i].EffectiveScore(), results[j].EffectiveScore()
		if si != sj {
			return si > sj
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	resp.RerankApplied = true
	if e.metrics != nil {
		e.metrics.RecordRerank("applied")
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// containsAll 判断 have 是否包含 want 的全部元素.
func containsAll(have, want []string) bool {
	for _, w := range want {
		if !containsString(have, w) {
			return false
		}
	}
	return true
}
