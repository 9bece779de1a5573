package rerank

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/types"
)

// fakeRelevance 可编程的相关性协作方.
type fakeRelevance struct {
	scores       map[string]float64 // 文本前缀 -> 分数
	scoreErr     error
	explainErr   error
	explainText  string
	scoreCalls   int
	explainCalls int
}

func (f *fakeRelevance) ScoreRelevance(_ context.Context, _, document string) (float64, error) {
	f.scoreCalls++
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	for prefix, score := range f.scores {
		if strings.HasPrefix(document, prefix) {
			return score, nil
		}
	}
	return 5, nil
}

func (f *fakeRelevance) ExplainRelevance(_ context.Context, _, _ string) (string, error) {
	f.explainCalls++
	if f.explainErr != nil {
		return "", f.explainErr
	}
	if f.explainText != "" {
		return f.explainText, nil
	}
	return "matches the query terms directly", nil
}

func testCandidates() []Candidate {
	return []Candidate{
		{ChunkID: "c1", Text: "weak match content", Score: 0.9},
		{ChunkID: "c2", Text: "strong match content", Score: 0.5},
	}
}

func TestRerankReorders(t *testing.T) {
	provider := &fakeRelevance{scores: map[string]float64{"weak": 2, "strong": 9}}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())

	ranked, err := r.Rerank(context.Background(), "query", testCandidates(), false)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].ChunkID != "c2" {
		t.Errorf("expected c2 promoted to first, got %s", ranked[0].ChunkID)
	}
	if ranked[0].RerankScore != 0.9 || ranked[1].RerankScore != 0.2 {
		t.Errorf("unexpected scores: %f, %f", ranked[0].RerankScore, ranked[1].RerankScore)
	}
}

func TestRerankRationaleDecoupledFromRanking(t *testing.T) {
	provider := &fakeRelevance{scores: map[string]float64{"weak": 2, "strong": 9}}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())
	ctx := context.Background()

	without, err := r.Rerank(ctx, "query", testCandidates(), false)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	with, err := r.Rerank(ctx, "query", testCandidates(), true)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	for i := range without {
		if without[i].ChunkID != with[i].ChunkID {
			t.Errorf("ordering changed with rationale: %s vs %s", without[i].ChunkID, with[i].ChunkID)
		}
		if without[i].Rationale != "" {
			t.Error("rationale present without include_rationale")
		}
		if with[i].Rationale == "" {
			t.Error("rationale missing with include_rationale")
		}
	}
	if provider.explainCalls != 2 {
		t.Errorf("expected 2 rationale calls, got %d", provider.explainCalls)
	}
}

func TestRerankRationaleFailureNonFatal(t *testing.T) {
	provider := &fakeRelevance{
		scores:     map[string]float64{"weak": 2, "strong": 9},
		explainErr: errors.New("llm down"),
	}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())

	ranked, err := r.Rerank(context.Background(), "query", testCandidates(), true)
	if err != nil {
		t.Fatalf("rationale failure must not fail rerank: %v", err)
	}
	if ranked[0].ChunkID != "c2" {
		t.Errorf("ranking affected by rationale failure: %s", ranked[0].ChunkID)
	}
	for _, item := range ranked {
		if item.Rationale != "" {
			t.Error("expected empty rationale on generation failure")
		}
	}
}

func TestRerankScoreFailureFallsBackToFusedScore(t *testing.T) {
	provider := &fakeRelevance{scoreErr: errors.New("llm down")}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())

	ranked, err := r.Rerank(context.Background(), "query", testCandidates(), false)
	if err != nil {
		t.Fatalf("per-candidate failure must not fail rerank: %v", err)
	}
	// 回退分数 = 融合分数，排序与融合序一致
	if ranked[0].ChunkID != "c1" {
		t.Errorf("expected fused-order fallback, got %s first", ranked[0].ChunkID)
	}
	if ranked[0].RerankScore != 0.9 {
		t.Errorf("expected fallback score 0.9, got %f", ranked[0].RerankScore)
	}
}

func TestRerankDeadlineExceeded(t *testing.T) {
	provider := &fakeRelevance{}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := r.Rerank(ctx, "query", testCandidates(), false)
	if !types.IsCode(err, types.ErrRerankTimeout) {
		t.Fatalf("expected RERANK_TIMEOUT, got %v", err)
	}
}

func TestRerankCandidateCap(t *testing.T) {
	provider := &fakeRelevance{}
	cfg := DefaultConfig()
	cfg.MaxCandidates = 3
	r := NewLLMReranker(provider, cfg, zap.NewNop())

	candidates := make([]Candidate, 10)
	for i := range candidates {
		candidates[i] = Candidate{ChunkID: string(rune('a' + i)), Text: "text", Score: 0.5}
	}

	ranked, err := r.Rerank(context.Background(), "query", candidates, false)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(ranked) != 3 {
		t.Errorf("expected 3 candidates after cap, got %d", len(ranked))
	}
	if provider.scoreCalls != 3 {
		t.Errorf("expected 3 scoring calls, got %d", provider.scoreCalls)
	}
}

func TestRerankEmptyCandidates(t *testing.T) {
	r := NewLLMReranker(&fakeRelevance{}, DefaultConfig(), zap.NewNop())
	ranked, err := r.Rerank(context.Background(), "query", nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("expected empty result, got %v", ranked)
	}
}

func TestRerankScoreClamped(t *testing.T) {
	provider := &fakeRelevance{scores: map[string]float64{"weak": 42, "strong": -3}}
	r := NewLLMReranker(provider, DefaultConfig(), zap.NewNop())

	ranked, err := r.Rerank(context.Background(), "query", testCandidates(), false)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	for _, item := range ranked {
		if item.RerankScore < 0 || item.RerankScore > 1 {
			t.Errorf("score out of range: %f", item.RerankScore)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 150); got != "short" {
		t.Errorf("short string modified: %q", got)
	}
	long := strings.Repeat("连", 200)
	got := truncateRunes(long, 150)
	if len([]rune(got)) != 150 {
		t.Errorf("expected 150 runes, got %d", len([]rune(got)))
	}
}
