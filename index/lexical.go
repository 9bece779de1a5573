package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// LexicalHit 词法检索命中.
type LexicalHit struct {
	ChunkID      string   `json:"chunk_id"`
	Score        float64  `json:"score"`         // bm25/(bm25+1), in [0,1)
	RawScore     float64  `json:"raw_score"`     // 未归一化的 BM25 分数
	MatchedTerms []string `json:"matched_terms"` // 命中的查询词，按查询顺序
}

// BM25Config BM25 配置.
type BM25Config struct {
	K1 float64 `yaml:"k1" json:"k1"` // 词频饱和参数 (1.2-2.0)
	B  float64 `yaml:"b" json:"b"`   // 长度归一化参数 (0.75)

	// PhraseBoost 查询作为连续短语出现时的分数乘数
	PhraseBoost float64 `yaml:"phrase_boost" json:"phrase_boost"`
}

// DefaultBM25Config 返回默认 BM25 配置.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:          1.5,
		B:           0.75,
		PhraseBoost: 1.2,
	}
}

type posting struct {
	chunkID string
	freq    int
}

// LexicalIndex BM25 倒排索引.
// 构建阶段通过 Insert 填充；发布为快照后只读.
type LexicalIndex struct {
	config BM25Config

	mu        sync.RWMutex
	postings  map[string][]posting // term -> postings
	docLens   map[string]int       // chunkID -> term count
	docTexts  map[string]string    // chunkID -> lowercased text，用于短语匹配
	totalLen  int
	idf       map[string]float64 // Insert 后失效，Search 前惰性重建
	idfDirty  bool
}

// NewLexicalIndex 创建词法索引.
func NewLexicalIndex(config BM25Config) *LexicalIndex {
	return &LexicalIndex{
		config:   config,
		postings: make(map[string][]posting),
		docLens:  make(map[string]int),
		docTexts: make(map[string]string),
		idf:      make(map[string]float64),
	}
}

// Insert 将分块文本加入倒排索引.
func (idx *LexicalIndex) Insert(chunkID, text string) {
	terms := Tokenize(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.docLens[chunkID]; exists {
		return
	}

	termFreq := make(map[string]int, len(terms))
	for _, term := range terms {
		termFreq[term]++
	}
	for term, freq := range termFreq {
		idx.postings[term] = append(idx.postings[term], posting{chunkID: chunkID, freq: freq})
	}

	idx.docLens[chunkID] = len(terms)
	idx.docTexts[chunkID] = strings.ToLower(text)
	idx.totalLen += len(terms)
	idx.idfDirty = true
}

// Remove 从倒排索引中移除分块.
func (idx *LexicalIndex) Remove(chunkID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	terms, exists := idx.docLens[chunkID]
	if !exists {
		return
	}

	for term, list := range idx.postings {
		filtered := list[:0]
		for _, p := range list {
			if p.chunkID != chunkID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(idx.postings, term)
		} else {
			idx.postings[term] = filtered
		}
	}

	idx.totalLen -= terms
	delete(idx.docLens, chunkID)
	delete(idx.docTexts, chunkID)
	idx.idfDirty = true
}

// Search 对查询执行 BM25 检索，按分数降序返回前 k 个命中.
// 空索引或无命中时返回空切片.
func (idx *LexicalIndex) Search(query string, k int) []LexicalHit {
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return []LexicalHit{}
	}

	idx.mu.Lock()
	if idx.idfDirty {
		idx.rebuildIDF()
	}
	idx.mu.Unlock()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.docLens) == 0 {
		return []LexicalHit{}
	}

	avgDocLen := float64(idx.totalLen) / float64(len(idx.docLens))

	// 去重后的查询词，保留首次出现顺序
	seen := make(map[string]bool, len(queryTerms))
	uniqueTerms := make([]string, 0, len(queryTerms))
	for _, term := range queryTerms {
		if !seen[term] {
			seen[term] = true
			uniqueTerms = append(uniqueTerms, term)
		}
	}

	scores := make(map[string]float64)
	matched := make(map[string][]string)

	for _, qTerm := range uniqueTerms {
		idf, ok := idx.idf[qTerm]
		if !ok {
			continue
		}
		for _, p := range idx.postings[qTerm] {
			docLen := float64(idx.docLens[p.chunkID])
			tf := float64(p.freq)

			// BM25 公式
			numerator := tf * (idx.config.K1 + 1.0)
			denominator := tf + idx.config.K1*(1.0-idx.config.B+idx.config.B*(docLen/avgDocLen))

			scores[p.chunkID] += idf * (numerator / denominator)
			matched[p.chunkID] = append(matched[p.chunkID], qTerm)
		}
	}

	// 多词查询作为连续短语命中时加权
	phrase := strings.ToLower(strings.TrimSpace(query))
	if idx.config.PhraseBoost > 1.0 && len(uniqueTerms) > 1 {
		for chunkID := range scores {
			if strings.Contains(idx.docTexts[chunkID], phrase) {
				scores[chunkID] *= idx.config.PhraseBoost
			}
		}
	}

	hits := make([]LexicalHit, 0, len(scores))
	for chunkID, raw := range scores {
		hits = append(hits, LexicalHit{
			ChunkID:      chunkID,
			Score:        raw / (raw + 1.0),
			RawScore:     raw,
			MatchedTerms: matched[chunkID],
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Size 索引中的分块数.
func (idx *LexicalIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLens)
}

// rebuildIDF 重算 IDF，调用方持有写锁.
func (idx *LexicalIndex) rebuildIDF() {
	n := float64(len(idx.docLens))
	idx.idf = make(map[string]float64, len(idx.postings))
	for term, list := range idx.postings {
		df := float64(len(list))
		idx.idf[term] = math.Log((n-df+0.5)/(df+0.5) + 1.0)
	}
	idx.idfDirty = false
}

// Tokenize 小写化并按非字母数字切分，数字保留.
// 查询和文档走同一条路径，保证打分可比.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
