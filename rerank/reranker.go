package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/types"
)

// Candidate 待重排序的候选.
type Candidate struct {
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"` // 融合阶段产出的分数
}

// Ranked 重排序后的候选.
type Ranked struct {
	Candidate
	RerankScore float64 `json:"rerank_score"` // in [0,1]
	Rationale   string  `json:"rationale,omitempty"`
}

// Reranker 重排序器接口.
type Reranker interface {
	// Rerank 对候选集重新打分排序，includeRationale 只控制理由文本
	// 的生成，不影响排序.
	Rerank(ctx context.Context, query string, candidates []Candidate, includeRationale bool) ([]Ranked, error)
}

// RelevanceProvider 相关性评估协作方.
type RelevanceProvider interface {
	// ScoreRelevance 评估查询-文档相关性，返回 0-10 分
	ScoreRelevance(ctx context.Context, query, document string) (float64, error)

	// ExplainRelevance 生成一句话的相关性理由
	ExplainRelevance(ctx context.Context, query, document string) (string, error)
}

// Config 重排序配置.
type Config struct {
	// MaxCandidates 参与重排序的最大候选数
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// RationaleMaxLength 理由文本最大长度（按 rune 计）
	RationaleMaxLength int `yaml:"rationale_max_length" json:"rationale_max_length"`
}

// DefaultConfig 返回默认重排序配置.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:      20,
		RationaleMaxLength: 150,
	}
}

// LLMReranker 基于语言模型的重排序器.
// 逐个候选调用相关性协作方；单个候选失败时回退到其融合分数，
// 上下文取消则整体失败，由引擎回退融合排序.
type LLMReranker struct {
	provider RelevanceProvider
	config   Config
	logger   *zap.Logger
}

// NewLLMReranker 创建 LLM 重排序器.
func NewLLMReranker(provider RelevanceProvider, config Config, logger *zap.Logger) *LLMReranker {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 20
	}
	if config.RationaleMaxLength <= 0 {
		config.RationaleMaxLength = 150
	}
	return &LLMReranker{
		provider: provider,
		config:   config,
		logger:   logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 重排序.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate, includeRationale bool) ([]Ranked, error) {
	if len(candidates) == 0 {
		return []Ranked{}, nil
	}

	if len(candidates) > r.config.MaxCandidates {
		candidates = candidates[:r.config.MaxCandidates]
	}

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.ErrRerankTimeout, "rerank deadline exceeded").WithCause(err)
		}

		score, err := r.provider.ScoreRelevance(ctx, query, c.Text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, types.NewError(types.ErrRerankTimeout, "rerank deadline exceeded").WithCause(err)
			}
			r.logger.Warn("relevance scoring failed, keeping fused score",
				zap.String("chunk_id", c.ChunkID),
				zap.Error(err))
			score = c.Score * 10
		}

		// 归一化到 0-1
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}

		ranked[i] = Ranked{
			Candidate:   c,
			RerankScore: score / 10.0,
		}
	}

	// 排序与理由解耦：先定序，再为最终顺序生成理由
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].RerankScore != ranked[j].RerankScore {
			return ranked[i].RerankScore > ranked[j].RerankScore
		}
		return ranked[i].ChunkID < ranked[j].ChunkID
	})

	if includeRationale {
		for i := range ranked {
			ranked[i].Rationale = r.rationale(ctx, query, ranked[i].Text)
		}
	}

	return ranked, nil
}

// rationale 生成单条理由，失败时留空，不影响排序结果.
func (r *LLMReranker) rationale(ctx context.Context, query, document string) string {
	text, err := r.provider.ExplainRelevance(ctx, query, document)
	if err != nil {
		r.logger.Warn("rationale generation failed", zap.Error(err))
		return ""
	}
	return truncateRunes(text, r.config.RationaleMaxLength)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
