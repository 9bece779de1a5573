package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/index"
	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/types"
)

// fakeEmbedder 返回固定维度的向量，可配置为不可用.
type fakeEmbedder struct {
	dims        int
	unavailable bool
	calls       int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.unavailable {
		return nil, types.NewError(types.ErrEmbeddingUnavailable, "provider down")
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, f.dims)
		vec[i%f.dims] = 1.0
		out[i] = vec
	}
	return out, nil
}

func newTestIngestor(t *testing.T, embedder DocumentEmbedder) (*Ingestor, *index.Store, *index.MetaStore) {
	t.Helper()

	chunker, err := ingest.NewChunkBuilder(ingest.ChunkingConfig{
		Size:              20,
		Overlap:           4,
		MinChunkTokens:    3,
		BoundaryTolerance: 0.2,
	}, ingest.NewHeuristicTokenizer(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewChunkBuilder failed: %v", err)
	}

	storeCfg := index.DefaultStoreConfig()
	storeCfg.Dimensions = 4
	store := index.NewStore(storeCfg, zap.NewNop())

	meta, err := index.NewMetaStore(index.MetaStoreConfig{Path: ":memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMetaStore failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	return NewIngestor(chunker, embedder, store, meta, nil, zap.NewNop()), store, meta
}

func testDoc(id, content string) ingest.Document {
	return ingest.Document{
		ID:          id,
		Content:     content,
		SourceURL:   "https://example.com/" + id,
		License:     "MIT",
		CollectedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestIngestDocumentsPublishesSnapshot(t *testing.T) {
	ing, store, _ := newTestIngestor(t, &fakeEmbedder{dims: 4})
	ctx := context.Background()

	doc := testDoc("d1", strings.Repeat("goroutine scheduling. ", 30))
	result, err := ing.IngestDocuments(ctx, []ingest.Document{doc})
	if err != nil {
		t.Fatalf("IngestDocuments failed: %v", err)
	}

	if result.ChunksIndexed == 0 {
		t.Fatal("expected chunks indexed")
	}
	if result.SnapshotVersion != 1 {
		t.Errorf("expected snapshot version 1, got %d", result.SnapshotVersion)
	}
	if result.Degraded {
		t.Error("unexpected degraded flag")
	}

	snap := store.Current()
	if snap.Size() != result.ChunksIndexed {
		t.Errorf("snapshot has %d chunks, result reports %d", snap.Size(), result.ChunksIndexed)
	}
	if snap.VectorSize() != result.ChunksIndexed {
		t.Errorf("expected every chunk vectorized, got %d of %d", snap.VectorSize(), result.ChunksIndexed)
	}

	hits := snap.LexicalSearch("goroutine scheduling", 5)
	if len(hits) == 0 {
		t.Error("ingested content not lexically searchable")
	}
}

func TestIngestSkipsEmptyAndTinyDocuments(t *testing.T) {
	ing, _, _ := newTestIngestor(t, &fakeEmbedder{dims: 4})
	ctx := context.Background()

	docs := []ingest.Document{
		testDoc("empty", "   "),
		testDoc("tiny", "ab"),
		testDoc("ok", strings.Repeat("the quick brown fox jumps. ", 20)),
	}

	result, err := ing.IngestDocuments(ctx, docs)
	if err != nil {
		t.Fatalf("IngestDocuments failed: %v", err)
	}

	if len(result.Documents) != 3 {
		t.Fatalf("expected 3 document reports, got %d", len(result.Documents))
	}
	if !result.Documents[0].Skipped || result.Documents[0].Reason != string(types.ErrEmptyDocument) {
		t.Errorf("empty document not skipped: %+v", result.Documents[0])
	}
	if !result.Documents[1].Skipped || result.Documents[1].Reason != string(types.ErrChunkTooSmall) {
		t.Errorf("tiny document not skipped: %+v", result.Documents[1])
	}
	if result.Documents[2].Skipped || result.Documents[2].Chunks == 0 {
		t.Errorf("valid document not indexed: %+v", result.Documents[2])
	}
}

func TestIngestAllSkippedKeepsSnapshot(t *testing.T) {
	ing, store, _ := newTestIngestor(t, &fakeEmbedder{dims: 4})

	result, err := ing.IngestDocuments(context.Background(), []ingest.Document{testDoc("empty", "")})
	if err != nil {
		t.Fatalf("IngestDocuments failed: %v", err)
	}
	if result.ChunksIndexed != 0 {
		t.Errorf("expected no chunks, got %d", result.ChunksIndexed)
	}
	if store.Current().Version() != 0 {
		t.Errorf("snapshot should not advance, got version %d", store.Current().Version())
	}
}

func TestIngestDegradesWhenEmbeddingUnavailable(t *testing.T) {
	ing, store, _ := newTestIngestor(t, &fakeEmbedder{dims: 4, unavailable: true})
	ctx := context.Background()

	doc := testDoc("d1", strings.Repeat("channel select semantics. ", 20))
	result, err := ing.IngestDocuments(ctx, []ingest.Document{doc})
	if err != nil {
		t.Fatalf("expected lexical-only degradation, got %v", err)
	}

	if !result.Degraded {
		t.Error("expected degraded flag")
	}
	snap := store.Current()
	if snap.Size() == 0 {
		t.Fatal("chunks should still reach the lexical index")
	}
	if snap.VectorSize() != 0 {
		t.Errorf("no vectors expected when embedding is down, got %d", snap.VectorSize())
	}
	if len(snap.LexicalSearch("channel select", 5)) == 0 {
		t.Error("degraded ingest not lexically searchable")
	}
}

func TestIngestIdempotentReingest(t *testing.T) {
	ing, store, meta := newTestIngestor(t, &fakeEmbedder{dims: 4})
	ctx := context.Background()

	doc := testDoc("d1", strings.Repeat("binary search trees. ", 25))
	first, err := ing.IngestDocuments(ctx, []ingest.Document{doc})
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	second, err := ing.IngestDocuments(ctx, []ingest.Document{doc})
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}

	if first.ChunksIndexed != second.ChunksIndexed {
		t.Errorf("re-ingest changed chunk count: %d vs %d", first.ChunksIndexed, second.ChunksIndexed)
	}
	// 确定性 ChunkID：重复摄取覆盖而不是翻倍
	if store.Current().Size() != first.ChunksIndexed {
		t.Errorf("expected %d chunks after re-ingest, got %d", first.ChunksIndexed, store.Current().Size())
	}

	stats, err := meta.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalChunks != int64(first.ChunksIndexed) {
		t.Errorf("metadata duplicated on re-ingest: %d records", stats.TotalChunks)
	}
}

func TestDeleteDocumentTombstonesAndRebuild(t *testing.T) {
	ing, store, meta := newTestIngestor(t, &fakeEmbedder{dims: 4})
	ctx := context.Background()

	keep := testDoc("keep", strings.Repeat("persistent data structures. ", 20))
	drop := testDoc("drop", strings.Repeat("ephemeral scratch notes. ", 20))
	if _, err := ing.IngestDocuments(ctx, []ingest.Document{keep, drop}); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	before := store.Current().Size()

	deleted, err := ing.DeleteDocument(ctx, "drop")
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if deleted == 0 {
		t.Fatal("expected deleted chunks")
	}
	if store.TombstoneCount() != deleted {
		t.Errorf("expected %d tombstones, got %d", deleted, store.TombstoneCount())
	}

	// 元数据立即出库
	ids, err := meta.ChunkIDsByDocument(ctx, "drop")
	if err != nil || len(ids) != 0 {
		t.Errorf("metadata not removed: ids=%v err=%v", ids, err)
	}

	// 重建后物理清除
	if _, err := ing.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if store.TombstoneCount() != 0 {
		t.Errorf("tombstones survived rebuild: %d", store.TombstoneCount())
	}
	if got := store.Current().Size(); got != before-deleted {
		t.Errorf("expected %d chunks after rebuild, got %d", before-deleted, got)
	}
}

func TestDeleteUnknownDocumentIsNoop(t *testing.T) {
	ing, store, _ := newTestIngestor(t, &fakeEmbedder{dims: 4})

	deleted, err := ing.DeleteDocument(context.Background(), "missing")
	if err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if deleted != 0 || store.TombstoneCount() != 0 {
		t.Errorf("unexpected deletions: %d tombstones %d", deleted, store.TombstoneCount())
	}
}

func TestIngestPropagatesUnexpectedEmbedError(t *testing.T) {
	broken := &brokenEmbedder{}
	ing, _, _ := newTestIngestor(t, broken)

	doc := testDoc("d1", strings.Repeat("some indexed text here. ", 20))
	_, err := ing.IngestDocuments(context.Background(), []ingest.Document{doc})
	if err == nil {
		t.Fatal("expected error from embedder")
	}
	if !errors.Is(err, errBroken) {
		t.Errorf("cause lost: %v", err)
	}
}

var errBroken = errors.New("wire snapped")

type brokenEmbedder struct{}

func (b *brokenEmbedder) EmbedTexts(context.Context, []string) ([][]float64, error) {
	return nil, errBroken
}
