package index

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/types"
)

// VectorHit 向量检索命中.
type VectorHit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"` // (cosine+1)/2, in [0,1]
}

// HNSWConfig HNSW 配置.
type HNSWConfig struct {
	M              int     `yaml:"m" json:"m"`                             // 每层最大连接数（12-48）
	EfConstruction int     `yaml:"ef_construction" json:"ef_construction"` // 构建时搜索宽度
	EfSearch       int     `yaml:"ef_search" json:"ef_search"`             // 搜索时宽度
	MaxLevel       int     `yaml:"max_level" json:"max_level"`             // 最大层数
	Ml             float64 `yaml:"ml" json:"ml"`                           // 层数归一化因子
}

// DefaultHNSWConfig 默认 HNSW 配置.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{
		M:              16,
		EfConstruction: 200,
		EfSearch:       100,
		MaxLevel:       16,
		Ml:             1.0 / math.Log(2.0),
	}
}

// VectorIndex HNSW 向量索引（Hierarchical Navigable Small World）.
// 构建阶段通过 Insert 填充；发布为快照后只读，Search 仅加读锁.
type VectorIndex struct {
	config     HNSWConfig
	dimensions int
	vectors    map[string][]float64
	graph      map[string]map[int][]string // id -> level -> neighbors
	entryPoint string
	maxLevel   int
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewVectorIndex 创建向量索引.
func NewVectorIndex(config HNSWConfig, dimensions int, logger *zap.Logger) *VectorIndex {
	return &VectorIndex{
		config:     config,
		dimensions: dimensions,
		vectors:    make(map[string][]float64),
		graph:      make(map[string]map[int][]string),
		logger:     logger,
	}
}

// Dimensions 返回索引向量维度.
func (idx *VectorIndex) Dimensions() int { return idx.dimensions }

// Insert 插入向量，维度不匹配时返回 DIMENSION_MISMATCH.
func (idx *VectorIndex) Insert(chunkID string, vector []float64) error {
	if len(vector) != idx.dimensions {
		return types.NewError(types.ErrDimensionMatch,
			fmt.Sprintf("expected %d dimensions, got %d", idx.dimensions, len(vector)))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.vectors[chunkID]; exists {
		return fmt.Errorf("vector %s already exists", chunkID)
	}

	idx.vectors[chunkID] = vector
	level := idx.randomLevel()
	if level > idx.maxLevel {
		idx.maxLevel = level
	}

	idx.graph[chunkID] = make(map[int][]string)
	for l := 0; l <= level; l++ {
		idx.graph[chunkID][l] = []string{}
	}

	if idx.entryPoint == "" {
		idx.entryPoint = chunkID
	} else {
		idx.insert(chunkID, vector, level)
	}

	return nil
}

// Remove 从索引中移除向量及其图连接.
func (idx *VectorIndex) Remove(chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.vectors[chunkID]; !exists {
		return fmt.Errorf("vector %s not found", chunkID)
	}

	delete(idx.vectors, chunkID)
	delete(idx.graph, chunkID)

	for _, neighbors := range idx.graph {
		for level, levelNeighbors := range neighbors {
			filtered := levelNeighbors[:0]
			for _, nid := range levelNeighbors {
				if nid != chunkID {
					filtered = append(filtered, nid)
				}
			}
			neighbors[level] = filtered
		}
	}

	if idx.entryPoint == chunkID {
		idx.entryPoint = ""
		for newID := range idx.vectors {
			idx.entryPoint = newID
			break
		}
	}

	return nil
}

// Search 搜索 k 个最近邻，按分数降序返回.
// 空索引返回空切片而不是错误.
func (idx *VectorIndex) Search(query []float64, k int) ([]VectorHit, error) {
	if len(query) != idx.dimensions {
		return nil, types.NewError(types.ErrDimensionMatch,
			fmt.Sprintf("expected %d dimensions, got %d", idx.dimensions, len(query)))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 {
		return []VectorHit{}, nil
	}

	// 从顶层逐层下降到第 1 层
	ep := idx.entryPoint
	for level := idx.maxLevel; level > 0; level-- {
		ep = idx.searchLayer(query, ep, 1, level)[0]
	}

	ef := idx.config.EfSearch
	if ef < k {
		ef = k
	}
	candidates := idx.searchLayer(query, ep, ef, 0)

	hits := make([]VectorHit, 0, k)
	for i := 0; i < len(candidates) && i < k; i++ {
		id := candidates[i]
		sim := 1.0 - idx.distance(query, idx.vectors[id])
		hits = append(hits, VectorHit{
			ChunkID: id,
			Score:   (sim + 1.0) / 2.0,
		})
	}

	return hits, nil
}

// Vector 返回指定分块的向量.
func (idx *VectorIndex) Vector(chunkID string) ([]float64, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	vec, ok := idx.vectors[chunkID]
	return vec, ok
}

// Size 索引中的向量数.
func (idx *VectorIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// ====== HNSW 内部方法 ======

func (idx *VectorIndex) insert(id string, vector []float64, level int) {
	ep := idx.entryPoint
	for lc := idx.maxLevel; lc > level; lc-- {
		ep = idx.searchLayer(vector, ep, 1, lc)[0]
	}

	for lc := level; lc >= 0; lc-- {
		candidates := idx.searchLayer(vector, ep, idx.config.EfConstruction, lc)

		m := idx.config.M
		if lc == 0 {
			m = idx.config.M * 2
		}

		neighbors := idx.selectNeighbors(id, candidates, m)
		idx.graph[id][lc] = neighbors
		for _, nid := range neighbors {
			idx.graph[nid][lc] = append(idx.graph[nid][lc], id)
			if len(idx.graph[nid][lc]) > m {
				idx.graph[nid][lc] = idx.selectNeighbors(nid, idx.graph[nid][lc], m)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}
}

// searchLayer 在指定层做 beam search，返回按距离升序的候选.
func (idx *VectorIndex) searchLayer(query []float64, ep string, ef, level int) []string {
	visited := map[string]bool{ep: true}
	candidates := &minHeap{}
	w := &maxHeap{}

	dist := idx.distance(query, idx.vectors[ep])
	heap.Push(candidates, &heapItem{id: ep, dist: dist})
	heap.Push(w, &heapItem{id: ep, dist: dist})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(*heapItem)
		if c.dist > (*w)[0].dist {
			break
		}

		for _, nid := range idx.graph[c.id][level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			dist := idx.distance(query, idx.vectors[nid])
			if dist < (*w)[0].dist || w.Len() < ef {
				heap.Push(candidates, &heapItem{id: nid, dist: dist})
				heap.Push(w, &heapItem{id: nid, dist: dist})
				if w.Len() > ef {
					heap.Pop(w)
				}
			}
		}
	}

	result := make([]string, w.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(w).(*heapItem).id
	}
	return result
}

func (idx *VectorIndex) selectNeighbors(id string, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}

	cands := &minHeap{}
	for _, cid := range candidates {
		heap.Push(cands, &heapItem{id: cid, dist: idx.distance(idx.vectors[id], idx.vectors[cid])})
	}

	result := make([]string, m)
	for i := 0; i < m; i++ {
		result[i] = heap.Pop(cands).(*heapItem).id
	}
	return result
}

func (idx *VectorIndex) randomLevel() int {
	level := 0
	for rand.Float64() < 0.5 && level < idx.config.MaxLevel {
		level++
	}
	return level
}

// distance 余弦距离，零向量按最远处理.
func (idx *VectorIndex) distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1.0 - similarity
}

// ====== 堆实现 ======

type heapItem struct {
	id   string
	dist float64
}

type minHeap []*heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

type maxHeap []*heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
