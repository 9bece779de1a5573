package embedding

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/types"
)

// GatewayConfig 嵌入网关配置.
type GatewayConfig struct {
	// BatchSize 单次上游请求的文本数上限
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxRetries 最大重试次数（0 表示不重试）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// InitialDelay 初始退避延迟
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay 最大退避延迟
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier 延迟倍增因子（指数退避）
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter 是否添加随机抖动（防止雪崩）
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RateLimitRPS 上游请求速率限制（0 表示不限制）
	RateLimitRPS float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`

	// Breaker 熔断配置
	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// DefaultGatewayConfig 返回默认网关配置.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BatchSize:    64,
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RateLimitRPS: 10,
		Breaker:      DefaultBreakerConfig(),
	}
}

// Gateway 嵌入网关.
// 包装 Provider：批量切分、指数退避重试、熔断、按内容哈希缓存。
// 所有失败统一以 EMBEDDING_UNAVAILABLE 暴露，调用方据此降级.
type Gateway struct {
	provider Provider
	config   GatewayConfig
	breaker  *breaker
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string][]float64 // content hash -> embedding
}

// NewGateway 创建嵌入网关.
func NewGateway(provider Provider, config GatewayConfig, logger *zap.Logger) *Gateway {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if max := provider.MaxBatchSize(); max > 0 && config.BatchSize > max {
		config.BatchSize = max
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier < 1.0 {
		config.Multiplier = 2.0
	}

	var limiter *rate.Limiter
	if config.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), 1)
	}

	return &Gateway{
		provider: provider,
		config:   config,
		breaker:  newBreaker(config.Breaker, logger),
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "embedding_gateway")),
		cache:    make(map[string][]float64),
	}
}

// Dimensions 返回提供者的嵌入维度.
func (g *Gateway) Dimensions() int { return g.provider.Dimensions() }

// EmbedTexts 批量生成嵌入，结果与输入一一对应.
// 已缓存的文本不重复请求上游；上游不可用时返回 EMBEDDING_UNAVAILABLE.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float64, len(texts))

	// 缓存命中的直接填充，只把未命中的发往上游
	var missing []int
	g.mu.RLock()
	for i, text := range texts {
		if vec, ok := g.cache[ingest.ContentHash(text)]; ok {
			result[i] = vec
		} else {
			missing = append(missing, i)
		}
	}
	g.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	for start := 0; start < len(missing); start += g.config.BatchSize {
		end := start + g.config.BatchSize
		if end > len(missing) {
			end = len(missing)
		}

		batch := make([]string, end-start)
		for j, idx := range missing[start:end] {
			batch[j] = texts[idx]
		}

		vectors, err := g.embedBatch(ctx, batch, InputTypeDocument)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		for j, idx := range missing[start:end] {
			result[idx] = vectors[j]
			g.cache[ingest.ContentHash(texts[idx])] = vectors[j]
		}
		g.mu.Unlock()
	}

	return result, nil
}

// EmbedQuery 生成单个查询的嵌入.
func (g *Gateway) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	vectors, err := g.embedBatch(ctx, []string{query}, InputTypeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch 执行单个批次：熔断检查 + 限速 + 退避重试.
func (g *Gateway) embedBatch(ctx context.Context, batch []string, inputType InputType) ([][]float64, error) {
	if err := g.breaker.allow(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoffDelay(attempt)
			g.logger.Debug("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				g.breaker.record(ctx.Err())
				return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding cancelled").WithCause(ctx.Err())
			case <-time.After(delay):
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				g.breaker.record(err)
				return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding cancelled").WithCause(err)
			}
		}

		resp, err := g.provider.Embed(ctx, &Request{Input: batch, InputType: inputType})
		if err == nil {
			if len(resp.Embeddings) != len(batch) {
				err = types.NewError(types.ErrUpstreamFormat,
					fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Embeddings))).
					WithProvider(g.provider.Name())
			} else {
				g.breaker.record(nil)
				return resp.Embeddings, nil
			}
		}

		lastErr = err
		if !types.IsRetryable(err) {
			break
		}
	}

	g.breaker.record(lastErr)
	g.logger.Warn("embedding provider unavailable",
		zap.String("provider", g.provider.Name()),
		zap.Int("batch_size", len(batch)),
		zap.Error(lastErr))

	return nil, types.NewError(types.ErrEmbeddingUnavailable, "embedding provider unavailable").
		WithProvider(g.provider.Name()).
		WithCause(lastErr)
}

// backoffDelay 计算指数退避延迟，可选 ±25% 抖动.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := float64(g.config.InitialDelay) * math.Pow(g.config.Multiplier, float64(attempt-1))
	if delay > float64(g.config.MaxDelay) {
		delay = float64(g.config.MaxDelay)
	}
	if g.config.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}
	if delay < float64(g.config.InitialDelay) {
		delay = float64(g.config.InitialDelay)
	}
	return time.Duration(delay)
}

// CacheSize 返回缓存的嵌入条数.
func (g *Gateway) CacheSize() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}
