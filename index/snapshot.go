package index

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/types"
)

// Snapshot 不可变的索引快照.
// 一次发布后不再修改，查询路径直接持有指针读取，无需加锁.
type Snapshot struct {
	version   int64
	createdAt time.Time
	vector    *VectorIndex
	lexical   *LexicalIndex
	chunks    map[string]ingest.Chunk
}

// Version 快照版本号，单调递增.
func (s *Snapshot) Version() int64 { return s.version }

// CreatedAt 快照发布时间.
func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }

// Size 快照中的分块数.
func (s *Snapshot) Size() int { return len(s.chunks) }

// VectorSize 快照中带向量的分块数.
func (s *Snapshot) VectorSize() int { return s.vector.Size() }

// Chunk 按 ID 查找分块.
func (s *Snapshot) Chunk(chunkID string) (ingest.Chunk, bool) {
	c, ok := s.chunks[chunkID]
	return c, ok
}

// VectorSearch 在快照上执行向量检索.
func (s *Snapshot) VectorSearch(query []float64, k int) ([]VectorHit, error) {
	return s.vector.Search(query, k)
}

// LexicalSearch 在快照上执行词法检索.
func (s *Snapshot) LexicalSearch(query string, k int) []LexicalHit {
	return s.lexical.Search(query, k)
}

// StoreConfig 索引仓库配置.
type StoreConfig struct {
	// Dimensions 向量维度
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// DataDir 快照持久化目录，空表示仅驻内存
	DataDir string `yaml:"data_dir" json:"data_dir"`

	HNSW HNSWConfig `yaml:"hnsw" json:"hnsw"`
	BM25 BM25Config `yaml:"bm25" json:"bm25"`
}

// DefaultStoreConfig 返回默认仓库配置.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Dimensions: 1536,
		HNSW:       DefaultHNSWConfig(),
		BM25:       DefaultBM25Config(),
	}
}

// Store 索引仓库.
// 持有当前快照，删除以墓碑标记，重建时物理清除并原子切换快照。
// 查询方通过 Current 拿到一致的快照视图.
type Store struct {
	config  StoreConfig
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]

	mu         sync.Mutex // 保护 tombstones 与版本号
	tombstones map[string]bool
	nextVer    int64

	publishMu sync.Mutex // 串行化发布全程，版本号不会重复
}

// NewStore 创建索引仓库，初始为空快照（版本 0）.
func NewStore(config StoreConfig, logger *zap.Logger) *Store {
	s := &Store{
		config:     config,
		logger:     logger,
		tombstones: make(map[string]bool),
		nextVer:    1,
	}
	s.current.Store(s.emptySnapshot(0))
	return s
}

func (s *Store) emptySnapshot(version int64) *Snapshot {
	return &Snapshot{
		version:   version,
		createdAt: time.Now(),
		vector:    NewVectorIndex(s.config.HNSW, s.config.Dimensions, s.logger),
		lexical:   NewLexicalIndex(s.config.BM25),
		chunks:    make(map[string]ingest.Chunk),
	}
}

// Current 返回当前快照.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Delete 以墓碑标记删除分块，物理清除发生在下一次重建.
// 当前快照的查询结果由调用方通过 IsDeleted 过滤.
func (s *Store) Delete(chunkID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones[chunkID] = true
}

// IsDeleted 判断分块是否已被墓碑标记.
func (s *Store) IsDeleted(chunkID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tombstones[chunkID]
}

// TombstoneCount 当前墓碑数.
func (s *Store) TombstoneCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tombstones)
}

// Builder 下一个快照的构建器.
// 从当前快照出发（剔除墓碑），叠加新增分块，Publish 原子切换.
type Builder struct {
	store   *Store
	chunks  map[string]ingest.Chunk
	vectors map[string][]float64

	// consumed 创建构建器时观察到并剔除的墓碑.
	// 发布时只清除这些；构建期间新设置的墓碑保留，继续在查询路径过滤
	consumed map[string]bool
}

// NewBuilder 基于当前快照创建构建器.
// carryForward 为 true 时继承现有分块（墓碑除外）.
func (s *Store) NewBuilder(carryForward bool) *Builder {
	b := &Builder{
		store:    s,
		chunks:   make(map[string]ingest.Chunk),
		vectors:  make(map[string][]float64),
		consumed: make(map[string]bool),
	}

	if carryForward {
		cur := s.Current()
		s.mu.Lock()
		for id := range s.tombstones {
			b.consumed[id] = true
		}
		for id, chunk := range cur.chunks {
			if s.tombstones[id] {
				continue
			}
			b.chunks[id] = chunk
			if vec, ok := cur.vector.Vector(id); ok {
				b.vectors[id] = vec
			}
		}
		s.mu.Unlock()
	}

	return b
}

// Add 将分块及其向量加入构建器.
// vector 可以为 nil（嵌入不可用时只进词法索引）.
func (b *Builder) Add(chunk ingest.Chunk, vector []float64) error {
	if vector != nil && len(vector) != b.store.config.Dimensions {
		return types.NewError(types.ErrDimensionMatch,
			fmt.Sprintf("expected %d dimensions, got %d", b.store.config.Dimensions, len(vector)))
	}
	b.chunks[chunk.ChunkID] = chunk
	if vector != nil {
		b.vectors[chunk.ChunkID] = vector
	}
	return nil
}

// Size 构建器中的分块数.
func (b *Builder) Size() int { return len(b.chunks) }

// Publish 重建两个索引并原子发布为新快照.
// 任何重建错误（含持久化损坏）只使本次重建失败，当前快照继续服务.
func (b *Builder) Publish(ctx context.Context) (*Snapshot, error) {
	s := b.store

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	version := s.nextVer
	s.mu.Unlock()

	snap := &Snapshot{
		version:   version,
		createdAt: time.Now(),
		vector:    NewVectorIndex(s.config.HNSW, s.config.Dimensions, s.logger),
		lexical:   NewLexicalIndex(s.config.BM25),
		chunks:    b.chunks,
	}

	// 按 ID 排序插入，保证图构建可复现
	ids := make([]string, 0, len(b.chunks))
	for id := range b.chunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.ErrIndexCorrupt, "index rebuild cancelled").WithCause(err)
		}
		snap.lexical.Insert(id, b.chunks[id].Text)
		if vec, ok := b.vectors[id]; ok {
			if err := snap.vector.Insert(id, vec); err != nil {
				return nil, types.NewError(types.ErrIndexCorrupt, "index rebuild failed").WithCause(err)
			}
		}
	}

	if s.config.DataDir != "" {
		if err := s.persist(snap, b.vectors); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.current.Store(snap)
	s.nextVer = version + 1
	for id := range b.consumed {
		delete(s.tombstones, id)
	}
	// 新快照中已不存在的分块，其墓碑已无可过滤的对象
	for id := range s.tombstones {
		if _, ok := snap.chunks[id]; !ok {
			delete(s.tombstones, id)
		}
	}
	s.mu.Unlock()

	s.logger.Info("index snapshot published",
		zap.Int64("version", version),
		zap.Int("chunks", len(snap.chunks)),
		zap.Int("vectors", snap.vector.Size()))

	return snap, nil
}

// ====== 快照持久化 ======

type snapshotFile struct {
	Version   int64
	CreatedAt time.Time
	Chunks    map[string]ingest.Chunk
	Vectors   map[string][]float64
}

func (s *Store) snapshotPath(version int64) string {
	return filepath.Join(s.config.DataDir, fmt.Sprintf("snapshot-%06d.gob", version))
}

// persist 将快照写入磁盘，先写临时文件再原子改名.
func (s *Store) persist(snap *Snapshot, vectors map[string][]float64) error {
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return types.NewError(types.ErrSnapshotIO, "failed to create snapshot dir").WithCause(err)
	}

	path := s.snapshotPath(snap.version)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return types.NewError(types.ErrSnapshotIO, "failed to create snapshot file").WithCause(err)
	}

	enc := gob.NewEncoder(f)
	if err := enc.Encode(snapshotFile{
		Version:   snap.version,
		CreatedAt: snap.createdAt,
		Chunks:    snap.chunks,
		Vectors:   vectors,
	}); err != nil {
		f.Close()
		os.Remove(tmp)
		return types.NewError(types.ErrSnapshotIO, "failed to encode snapshot").WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return types.NewError(types.ErrSnapshotIO, "failed to flush snapshot").WithCause(err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return types.NewError(types.ErrSnapshotIO, "failed to commit snapshot").WithCause(err)
	}
	return nil
}

// LoadLatest 从磁盘加载最新快照并发布.
// 没有快照文件时不报错，保持空快照；文件损坏返回 INDEX_CORRUPT.
func (s *Store) LoadLatest(ctx context.Context) error {
	if s.config.DataDir == "" {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(s.config.DataDir, "snapshot-*.gob"))
	if err != nil || len(matches) == 0 {
		return nil
	}
	sort.Strings(matches)
	latest := matches[len(matches)-1]

	f, err := os.Open(latest)
	if err != nil {
		return types.NewError(types.ErrSnapshotIO, "failed to open snapshot").WithCause(err)
	}
	defer f.Close()

	var file snapshotFile
	if err := gob.NewDecoder(f).Decode(&file); err != nil {
		return types.NewError(types.ErrIndexCorrupt,
			fmt.Sprintf("snapshot %s is corrupt", filepath.Base(latest))).WithCause(err)
	}

	b := s.NewBuilder(false)
	for id, chunk := range file.Chunks {
		if err := b.Add(chunk, file.Vectors[id]); err != nil {
			return types.NewError(types.ErrIndexCorrupt,
				fmt.Sprintf("snapshot %s is corrupt", filepath.Base(latest))).WithCause(err)
		}
	}

	s.mu.Lock()
	s.nextVer = file.Version
	s.mu.Unlock()

	if _, err := b.Publish(ctx); err != nil {
		return err
	}

	s.logger.Info("index snapshot loaded",
		zap.String("file", filepath.Base(latest)),
		zap.Int64("version", file.Version),
		zap.Int("chunks", len(file.Chunks)))
	return nil
}
