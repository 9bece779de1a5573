package search

import (
	"sort"

	"github.com/BaSui01/retrievalflow/index"
)

// candidate 融合阶段的中间候选.
type candidate struct {
	ChunkID      string
	FusedScore   float64
	VectorScore  float64
	LexicalScore float64
	MatchedTerms []string
}

// fuse 加权融合两路检索结果.
// 混合模式：fused = alpha*vector + (1-alpha)*lexical，缺席一侧按 0 计；
// 单一模式直接取该侧分数。返回按 FusedScore 降序、ChunkID 升序.
func fuse(mode Mode, alpha float64, vectorHits []index.VectorHit, lexicalHits []index.LexicalHit) []candidate {
	byID := make(map[string]*candidate)

	get := func(chunkID string) *candidate {
		if c, ok := byID[chunkID]; ok {
			return c
		}
		c := &candidate{ChunkID: chunkID}
		byID[chunkID] = c
		return c
	}

	for _, h := range vectorHits {
		get(h.ChunkID).VectorScore = h.Score
	}
	for _, h := range lexicalHits {
		c := get(h.ChunkID)
		c.LexicalScore = h.Score
		c.MatchedTerms = h.MatchedTerms
	}

	fused := make([]candidate, 0, len(byID))
	for _, c := range byID {
		switch mode {
		case ModeVector:
			c.FusedScore = c.VectorScore
		case ModeLexical:
			c.FusedScore = c.LexicalScore
		default:
			c.FusedScore = alpha*c.VectorScore + (1.0-alpha)*c.LexicalScore
		}
		fused = append(fused, *c)
	}

	sortCandidates(fused)
	return fused
}

// sortCandidates 融合分数降序，同分按 ChunkID 升序保证确定性.
func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FusedScore != cands[j].FusedScore {
			return cands[i].FusedScore > cands[j].FusedScore
		}
		return cands[i].ChunkID < cands[j].ChunkID
	})
}
