// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 检索指标
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.HistogramVec
	degradedTotal  *prometheus.CounterVec
	rerankTotal    *prometheus.CounterVec

	// 嵌入指标
	embeddingRequestsTotal   *prometheus.CounterVec
	embeddingRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 索引指标
	indexChunks          *prometheus.GaugeVec
	indexSnapshotVersion prometheus.Gauge
	indexRebuildsTotal   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 检索指标
	c.searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "status"},
	)

	c.searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"mode"},
	)

	c.searchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20},
		},
		[]string{"mode"},
	)

	c.degradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_searches_total",
			Help:      "Total number of degraded search responses",
		},
		[]string{"reason"},
	)

	c.rerankTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_total",
			Help:      "Total number of rerank attempts by outcome",
		},
		[]string{"outcome"}, // applied, skipped, failed, timeout
	)

	// 嵌入指标
	c.embeddingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	c.embeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 索引指标
	c.indexChunks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Number of chunks in the current snapshot",
		},
		[]string{"index"}, // vector, lexical
	)

	c.indexSnapshotVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_snapshot_version",
			Help:      "Version of the currently serving index snapshot",
		},
	)

	c.indexRebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Total number of index rebuilds by status",
		},
		[]string{"status"}, // success, failed
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔍 检索指标记录
// =============================================================================

// RecordSearch 记录检索请求
func (c *Collector) RecordSearch(mode, status string, duration time.Duration, resultCount int) {
	c.searchesTotal.WithLabelValues(mode, status).Inc()
	c.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.searchResults.WithLabelValues(mode).Observe(float64(resultCount))
}

// RecordDegraded 记录降级响应
func (c *Collector) RecordDegraded(reason string) {
	c.degradedTotal.WithLabelValues(reason).Inc()
}

// RecordRerank 记录重排序结果
func (c *Collector) RecordRerank(outcome string) {
	c.rerankTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 🧮 嵌入指标记录
// =============================================================================

// RecordEmbeddingRequest 记录嵌入请求
func (c *Collector) RecordEmbeddingRequest(provider, status string, duration time.Duration) {
	c.embeddingRequestsTotal.WithLabelValues(provider, status).Inc()
	c.embeddingRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗂️ 索引指标记录
// =============================================================================

// RecordIndexSize 记录快照内的向量与词法条目数
func (c *Collector) RecordIndexSize(vectorCount, lexicalCount int) {
	c.indexChunks.WithLabelValues("vector").Set(float64(vectorCount))
	c.indexChunks.WithLabelValues("lexical").Set(float64(lexicalCount))
}

// RecordSnapshotVersion 记录当前服务的快照版本
func (c *Collector) RecordSnapshotVersion(version int64) {
	c.indexSnapshotVersion.Set(float64(version))
}

// RecordIndexRebuild 记录一次索引重建
func (c *Collector) RecordIndexRebuild(status string) {
	c.indexRebuildsTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
