package search

import (
	"fmt"
	"unicode/utf8"

	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/types"
)

// Mode 检索模式.
type Mode string

const (
	ModeVector  Mode = "vector"  // 仅向量检索
	ModeLexical Mode = "lexical" // 仅词法检索
	ModeHybrid  Mode = "hybrid"  // 混合检索（默认）
)

const (
	// MaxQueryLength 查询最大字符数
	MaxQueryLength = 500
	// MaxTopK 单次请求最大返回数
	MaxTopK = 20
	// DefaultTopK 未指定时的返回数
	DefaultTopK = 10
)

// Filters 结果过滤条件，全部在融合之后应用.
type Filters struct {
	// Licenses 许可白名单（任一匹配即通过），空表示不过滤
	Licenses []string `json:"licenses,omitempty"`

	// Tags 要求分块包含的全部标签
	Tags []string `json:"tags,omitempty"`

	// MinQualityScore 质量分下限，未打分的分块按 0 处理
	MinQualityScore *float64 `json:"min_quality_score,omitempty"`
}

// Empty 判断过滤条件是否为空.
func (f Filters) Empty() bool {
	return len(f.Licenses) == 0 && len(f.Tags) == 0 && f.MinQualityScore == nil
}

// Request 检索请求.
type Request struct {
	Query            string  `json:"query"`
	TopK             int     `json:"top_k,omitempty"`
	Mode             Mode    `json:"mode,omitempty"`
	Filters          Filters `json:"filters,omitempty"`
	IncludeRationale bool    `json:"include_rationale,omitempty"`
}

// Normalize 填充默认值并校验，非法请求返回 INVALID_REQUEST.
func (r *Request) Normalize() error {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.Mode == "" {
		r.Mode = ModeHybrid
	}

	queryLen := utf8.RuneCountInString(r.Query)
	if queryLen < 1 || queryLen > MaxQueryLength {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("query length must be 1-%d characters, got %d", MaxQueryLength, queryLen))
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("top_k must be 1-%d, got %d", MaxTopK, r.TopK))
	}
	switch r.Mode {
	case ModeVector, ModeLexical, ModeHybrid:
	default:
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown mode %q", r.Mode))
	}
	return nil
}

// Result 单条检索结果.
type Result struct {
	ChunkID      string            `json:"chunk_id"`
	Text         string            `json:"text"`
	FusedScore   float64           `json:"fused_score"`
	RerankScore  *float64          `json:"rerank_score,omitempty"`
	Rationale    string            `json:"rationale,omitempty"`
	MatchedTerms []string          `json:"matched_terms,omitempty"`
	Provenance   ingest.Provenance `json:"provenance"`
}

// EffectiveScore 排序用分数：重排序分数优先，否则融合分数.
func (r Result) EffectiveScore() float64 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	return r.FusedScore
}

// Response 检索响应.
type Response struct {
	Results       []Result `json:"results"`
	TotalResults  int      `json:"total_results"`
	Degraded      bool     `json:"degraded"`
	RerankApplied bool     `json:"rerank_applied"`
	Cached        bool     `json:"cached"`
	SearchTimeMS  int64    `json:"search_time_ms"`
}
