package search

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/BaSui01/retrievalflow/index"
)

func TestFuseHybridWeights(t *testing.T) {
	vector := []index.VectorHit{{ChunkID: "c1", Score: 1.0}}
	lexical := []index.LexicalHit{{ChunkID: "c1", Score: 0.5}}

	fused := fuse(ModeHybrid, 0.6, vector, lexical)
	if len(fused) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(fused))
	}
	want := 0.6*1.0 + 0.4*0.5
	if fused[0].FusedScore != want {
		t.Errorf("expected fused %f, got %f", want, fused[0].FusedScore)
	}
}

func TestFuseMissingSideContributesZero(t *testing.T) {
	vector := []index.VectorHit{{ChunkID: "only-vector", Score: 0.8}}
	lexical := []index.LexicalHit{{ChunkID: "only-lexical", Score: 0.9}}

	fused := fuse(ModeHybrid, 0.6, vector, lexical)
	if len(fused) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(fused))
	}

	scores := make(map[string]float64)
	for _, c := range fused {
		scores[c.ChunkID] = c.FusedScore
	}
	if got := scores["only-vector"]; got != 0.6*0.8 {
		t.Errorf("vector-only candidate: expected %f, got %f", 0.6*0.8, got)
	}
	if got := scores["only-lexical"]; got != 0.4*0.9 {
		t.Errorf("lexical-only candidate: expected %f, got %f", 0.4*0.9, got)
	}
}

func TestFuseSingleModes(t *testing.T) {
	vector := []index.VectorHit{{ChunkID: "c1", Score: 0.7}}
	lexical := []index.LexicalHit{{ChunkID: "c1", Score: 0.3}}

	v := fuse(ModeVector, 0.6, vector, lexical)
	if v[0].FusedScore != 0.7 {
		t.Errorf("vector mode should use vector score, got %f", v[0].FusedScore)
	}

	l := fuse(ModeLexical, 0.6, vector, lexical)
	if l[0].FusedScore != 0.3 {
		t.Errorf("lexical mode should use lexical score, got %f", l[0].FusedScore)
	}
}

func TestFuseTieBreakByChunkID(t *testing.T) {
	vector := []index.VectorHit{
		{ChunkID: "zz", Score: 0.5},
		{ChunkID: "aa", Score: 0.5},
	}

	fused := fuse(ModeHybrid, 0.6, vector, nil)
	if fused[0].ChunkID != "aa" || fused[1].ChunkID != "zz" {
		t.Errorf("expected tie broken by ascending chunk ID, got %s, %s", fused[0].ChunkID, fused[1].ChunkID)
	}
}

func TestFuseCarriesMatchedTerms(t *testing.T) {
	lexical := []index.LexicalHit{{ChunkID: "c1", Score: 0.5, MatchedTerms: []string{"fox", "quick"}}}

	fused := fuse(ModeHybrid, 0.6, nil, lexical)
	if len(fused[0].MatchedTerms) != 2 {
		t.Errorf("matched terms lost in fusion: %v", fused[0].MatchedTerms)
	}
}

func TestFuseMonotonicInVectorScore(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		alpha := rapid.Float64Range(0.01, 0.99).Draw(t, "alpha")
		lexScore := rapid.Float64Range(0, 1).Draw(t, "lex")
		v1 := rapid.Float64Range(0, 1).Draw(t, "v1")
		v2 := rapid.Float64Range(0, 1).Draw(t, "v2")
		if v1 > v2 {
			v1, v2 = v2, v1
		}

		lexical := []index.LexicalHit{{ChunkID: "c", Score: lexScore}}
		low := fuse(ModeHybrid, alpha, []index.VectorHit{{ChunkID: "c", Score: v1}}, lexical)
		high := fuse(ModeHybrid, alpha, []index.VectorHit{{ChunkID: "c", Score: v2}}, lexical)

		if low[0].FusedScore > high[0].FusedScore {
			t.Fatalf("fused score not monotonic: v1=%f -> %f, v2=%f -> %f",
				v1, low[0].FusedScore, v2, high[0].FusedScore)
		}
	})
}
