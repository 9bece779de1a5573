package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/types"
)

func testChunk(id, text string) ingest.Chunk {
	return ingest.Chunk{
		ChunkID:    id,
		Text:       text,
		TokenCount: len(text) / 4,
		Provenance: ingest.Provenance{
			DocumentID:  "doc-1",
			SourceURL:   "https://example.com/doc-1",
			License:     "MIT",
			CollectedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func testStoreConfig() StoreConfig {
	cfg := DefaultStoreConfig()
	cfg.Dimensions = 3
	return cfg
}

func TestStoreStartsEmpty(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	snap := store.Current()
	if snap.Version() != 0 {
		t.Errorf("expected version 0, got %d", snap.Version())
	}
	if snap.Size() != 0 {
		t.Errorf("expected empty snapshot, got %d chunks", snap.Size())
	}

	hits, err := snap.VectorSearch([]float64{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("VectorSearch on empty snapshot: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestBuilderPublish(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	if err := b.Add(testChunk("c1", "golang retrieval engine"), []float64{1, 0, 0}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b.Add(testChunk("c2", "redis caching layer"), []float64{0, 1, 0}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	snap, err := b.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if snap.Version() != 1 {
		t.Errorf("expected version 1, got %d", snap.Version())
	}
	if store.Current() != snap {
		t.Error("Current should return the published snapshot")
	}

	hits, err := snap.VectorSearch([]float64{1, 0, 0}, 1)
	if err != nil || len(hits) != 1 || hits[0].ChunkID != "c1" {
		t.Errorf("vector search failed: hits=%v err=%v", hits, err)
	}
	lhits := snap.LexicalSearch("redis", 10)
	if len(lhits) != 1 || lhits[0].ChunkID != "c2" {
		t.Errorf("lexical search failed: %v", lhits)
	}
}

func TestBuilderAddWithoutVector(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	if err := b.Add(testChunk("c1", "lexical only chunk"), nil); err != nil {
		t.Fatalf("Add without vector failed: %v", err)
	}
	snap, err := b.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if hits := snap.LexicalSearch("lexical", 10); len(hits) != 1 {
		t.Errorf("expected lexical hit, got %v", hits)
	}
	vhits, _ := snap.VectorSearch([]float64{1, 0, 0}, 10)
	if len(vhits) != 0 {
		t.Errorf("chunk without vector should not appear in vector search: %v", vhits)
	}
}

func TestBuilderDimensionMismatch(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	err := b.Add(testChunk("c1", "text"), []float64{1, 0})
	if !types.IsCode(err, types.ErrDimensionMatch) {
		t.Errorf("expected DIMENSION_MISMATCH, got %v", err)
	}
}

func TestTombstoneAndRebuild(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	b.Add(testChunk("c1", "first chunk"), []float64{1, 0, 0})
	b.Add(testChunk("c2", "second chunk"), []float64{0, 1, 0})
	if _, err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	store.Delete("c1")
	if !store.IsDeleted("c1") {
		t.Fatal("expected c1 tombstoned")
	}
	// 墓碑不影响当前快照内容，由查询方过滤
	if _, ok := store.Current().Chunk("c1"); !ok {
		t.Error("tombstoned chunk should remain in current snapshot until rebuild")
	}

	// 重建：继承现有分块，物理剔除墓碑
	snap, err := store.NewBuilder(true).Publish(context.Background())
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if snap.Version() != 2 {
		t.Errorf("expected version 2, got %d", snap.Version())
	}
	if _, ok := snap.Chunk("c1"); ok {
		t.Error("tombstoned chunk survived rebuild")
	}
	if _, ok := snap.Chunk("c2"); !ok {
		t.Error("live chunk lost during rebuild")
	}
	if store.IsDeleted("c1") {
		t.Error("tombstones should be cleared after rebuild")
	}
}

// 重建进行中到达的删除不能丢失：该分块可能被带入新快照，
// 但墓碑必须保留到下一次重建物理清除为止.
func TestDeleteDuringRebuildNotLost(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	b.Add(testChunk("a", "first chunk"), []float64{1, 0, 0})
	b.Add(testChunk("b", "second chunk"), []float64{0, 1, 0})
	if _, err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// 构建器已带走 a，随后 a 被删除
	rebuild := store.NewBuilder(true)
	store.Delete("a")

	snap, err := rebuild.Publish(context.Background())
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if snap.Version() != 2 {
		t.Errorf("expected version 2, got %d", snap.Version())
	}
	if !store.IsDeleted("a") {
		t.Fatal("delete during rebuild lost its tombstone")
	}

	// 下一次重建物理清除
	snap, err = store.NewBuilder(true).Publish(context.Background())
	if err != nil {
		t.Fatalf("second rebuild failed: %v", err)
	}
	if _, ok := snap.Chunk("a"); ok {
		t.Error("deleted chunk survived the follow-up rebuild")
	}
	if store.IsDeleted("a") {
		t.Error("tombstone should be cleared once the chunk is purged")
	}
	if _, ok := snap.Chunk("b"); !ok {
		t.Error("live chunk lost during rebuild")
	}
}

// 并发发布版本号不重复.
func TestConcurrentPublishDistinctVersions(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	const publishers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions []int64
	)
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b := store.NewBuilder(true)
			if err := b.Add(testChunk(fmt.Sprintf("c%d", n), "concurrent chunk"), nil); err != nil {
				t.Errorf("Add failed: %v", err)
				return
			}
			snap, err := b.Publish(context.Background())
			if err != nil {
				t.Errorf("Publish failed: %v", err)
				return
			}
			mu.Lock()
			versions = append(versions, snap.Version())
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, len(versions))
	for _, v := range versions {
		if seen[v] {
			t.Fatalf("duplicate snapshot version %d published", v)
		}
		seen[v] = true
	}
	if store.Current().Version() != publishers {
		t.Errorf("expected final version %d, got %d", publishers, store.Current().Version())
	}
}

func TestCarryForwardKeepsVectors(t *testing.T) {
	store := NewStore(testStoreConfig(), zap.NewNop())

	b := store.NewBuilder(false)
	b.Add(testChunk("c1", "persisted vector"), []float64{0, 0, 1})
	if _, err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	b2 := store.NewBuilder(true)
	b2.Add(testChunk("c2", "new chunk"), []float64{1, 0, 0})
	snap, err := b2.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	hits, err := snap.VectorSearch([]float64{0, 0, 1}, 1)
	if err != nil || len(hits) != 1 || hits[0].ChunkID != "c1" {
		t.Errorf("carried-forward vector not searchable: hits=%v err=%v", hits, err)
	}
}

func TestSnapshotPersistAndLoad(t *testing.T) {
	dir := t.TempDir()

	cfg := testStoreConfig()
	cfg.DataDir = dir

	store := NewStore(cfg, zap.NewNop())
	b := store.NewBuilder(false)
	b.Add(testChunk("c1", "durable chunk"), []float64{1, 0, 0})
	if _, err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// 新仓库从磁盘恢复
	store2 := NewStore(cfg, zap.NewNop())
	if err := store2.LoadLatest(context.Background()); err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}

	snap := store2.Current()
	if snap.Version() != 1 {
		t.Errorf("expected restored version 1, got %d", snap.Version())
	}
	if _, ok := snap.Chunk("c1"); !ok {
		t.Error("chunk lost across restart")
	}
	hits, err := snap.VectorSearch([]float64{1, 0, 0}, 1)
	if err != nil || len(hits) != 1 {
		t.Errorf("restored vector not searchable: hits=%v err=%v", hits, err)
	}
}

func TestLoadLatestCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "snapshot-000001.gob"), []byte("not a gob"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testStoreConfig()
	cfg.DataDir = dir

	store := NewStore(cfg, zap.NewNop())
	err := store.LoadLatest(context.Background())
	if !types.IsCode(err, types.ErrIndexCorrupt) {
		t.Fatalf("expected INDEX_CORRUPT, got %v", err)
	}

	// 加载失败不影响空快照继续服务
	if store.Current().Version() != 0 {
		t.Error("corrupt load must leave current snapshot untouched")
	}
}

func TestLoadLatestNoFiles(t *testing.T) {
	cfg := testStoreConfig()
	cfg.DataDir = t.TempDir()

	store := NewStore(cfg, zap.NewNop())
	if err := store.LoadLatest(context.Background()); err != nil {
		t.Fatalf("expected no error with empty data dir, got %v", err)
	}
}
