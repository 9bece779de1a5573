package embedding

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/types"
)

// BreakerState 熔断器状态.
type BreakerState int

const (
	// BreakerClosed 关闭状态（正常工作）
	BreakerClosed BreakerState = iota
	// BreakerOpen 打开状态（熔断中）
	BreakerOpen
	// BreakerHalfOpen 半开状态（试探性恢复）
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置.
type BreakerConfig struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int `yaml:"threshold" json:"threshold"`

	// ResetTimeout 熔断恢复等待时间（Open -> HalfOpen）
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`

	// HalfOpenMaxCalls 半开状态下允许的最大请求数
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// DefaultBreakerConfig 返回默认熔断配置.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// breaker 针对嵌入上游的熔断器.
// 上游连续失败达到阈值后短路后续调用，让查询管线立即降级
// 而不是等待超时.
type breaker struct {
	config BreakerConfig
	logger *zap.Logger

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	halfOpenCalls   int
}

func newBreaker(config BreakerConfig, logger *zap.Logger) *breaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 2
	}
	return &breaker{
		config: config,
		logger: logger,
		state:  BreakerClosed,
	}
}

// allow 判断当前调用是否放行，不放行时返回熔断错误.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.lastFailureTime) >= b.config.ResetTimeout {
			b.transition(BreakerHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return types.NewError(types.ErrEmbeddingUnavailable, "embedding circuit breaker is open")
	case BreakerHalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return types.NewError(types.ErrEmbeddingUnavailable, "embedding circuit breaker is probing")
		}
		b.halfOpenCalls++
		return nil
	}
	return nil
}

// record 记录调用结果并驱动状态机.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == BreakerHalfOpen {
			b.transition(BreakerClosed)
		}
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.state == BreakerHalfOpen || b.failureCount >= b.config.Threshold {
		b.transition(BreakerOpen)
	}
}

// State 返回当前状态.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) transition(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Warn("embedding circuit breaker state change",
		zap.String("from", b.state.String()),
		zap.String("to", to.String()))
	b.state = to
	if to == BreakerClosed {
		b.failureCount = 0
	}
}
