package search

import (
	"context"
	"strings"
)

// Rewriter 查询改写接口.
// 改写失败时引擎回退到原始查询，改写永远不会使请求失败.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

// PassthroughRewriter 原样返回查询.
type PassthroughRewriter struct{}

// Rewrite 原样返回.
func (PassthroughRewriter) Rewrite(_ context.Context, query string) (string, error) {
	return query, nil
}

// SynonymRewriter 基于静态同义词表扩展查询词.
type SynonymRewriter struct {
	// Synonyms 词 -> 追加的同义词
	Synonyms map[string][]string
}

// NewSynonymRewriter 返回带内置编程领域同义词表的改写器.
func NewSynonymRewriter() *SynonymRewriter {
	return &SynonymRewriter{Synonyms: map[string][]string{
		"golang":      {"go"},
		"js":          {"javascript"},
		"ts":          {"typescript"},
		"py":          {"python"},
		"k8s":         {"kubernetes"},
		"db":          {"database"},
		"auth":        {"authentication"},
		"config":      {"configuration"},
		"concurrency": {"goroutine"},
		"mutex":       {"lock"},
	}}
}

// Rewrite 为命中同义词表的查询词追加同义词.
func (r *SynonymRewriter) Rewrite(_ context.Context, query string) (string, error) {
	if len(r.Synonyms) == 0 {
		return query, nil
	}

	var extra []string
	seen := make(map[string]bool)
	for _, term := range strings.Fields(strings.ToLower(query)) {
		for _, syn := range r.Synonyms[term] {
			if !seen[syn] && !strings.Contains(strings.ToLower(query), syn) {
				seen[syn] = true
				extra = append(extra, syn)
			}
		}
	}

	if len(extra) == 0 {
		return query, nil
	}
	return query + " " + strings.Join(extra, " "), nil
}
