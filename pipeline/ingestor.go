package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/index"
	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/internal/metrics"
	"github.com/BaSui01/retrievalflow/types"
)

// ====== 摄取编排 ======

// DocumentEmbedder 批量文档嵌入接口，由 embedding.Gateway 实现.
type DocumentEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
}

// DocumentReport 单个文档的摄取结果.
type DocumentReport struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
}

// IngestResult 一批文档的摄取汇总.
type IngestResult struct {
	Documents       []DocumentReport `json:"documents"`
	ChunksIndexed   int              `json:"chunks_indexed"`
	SnapshotVersion int64            `json:"snapshot_version"`

	// Degraded 表示嵌入服务不可用，本批分块仅进入词法索引
	Degraded bool `json:"degraded"`
}

// Ingestor 文档摄取编排器.
// 分块 → 元数据落库 → 批量嵌入 → 构建并发布新快照。
// 单个文档失败（空文档、过小）只跳过该文档，批次继续.
type Ingestor struct {
	chunker  *ingest.ChunkBuilder
	embedder DocumentEmbedder
	store    *index.Store
	meta     *index.MetaStore
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewIngestor 创建摄取编排器. metrics 与 meta 允许为 nil.
func NewIngestor(
	chunker *ingest.ChunkBuilder,
	embedder DocumentEmbedder,
	store *index.Store,
	meta *index.MetaStore,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		meta:     meta,
		metrics:  collector,
		logger:   logger,
	}
}

// IngestDocuments 摄取一批文档并发布新快照.
//
// 嵌入服务不可用时降级：分块仍进入词法索引，Degraded=true，
// 后续重新摄取同一文档会因确定性 ChunkID 覆盖为带向量的版本.
func (ing *Ingestor) IngestDocuments(ctx context.Context, docs []ingest.Document) (*IngestResult, error) {
	started := time.Now()
	result := &IngestResult{Documents: make([]DocumentReport, 0, len(docs))}

	var pending []ingest.Chunk
	for _, doc := range docs {
		chunks, err := ing.chunker.BuildChunks(doc)
		if err != nil {
			code := types.GetErrorCode(err)
			if code == types.ErrEmptyDocument || code == types.ErrChunkTooSmall {
				ing.logger.Warn("document skipped",
					zap.String("document_id", doc.ID),
					zap.String("reason", string(code)))
				result.Documents = append(result.Documents, DocumentReport{
					DocumentID: doc.ID,
					Skipped:    true,
					Reason:     string(code),
				})
				continue
			}
			return nil, err
		}

		result.Documents = append(result.Documents, DocumentReport{
			DocumentID: doc.ID,
			Chunks:     len(chunks),
		})
		pending = append(pending, chunks...)
	}

	if len(pending) == 0 {
		// 全部跳过也是合法结果，快照保持不变
		result.SnapshotVersion = ing.store.Current().Version()
		return result, nil
	}

	if ing.meta != nil {
		if err := ing.meta.SaveChunks(ctx, pending); err != nil {
			return nil, err
		}
	}

	vectors, degraded, err := ing.embedChunks(ctx, pending)
	if err != nil {
		return nil, err
	}
	result.Degraded = degraded

	builder := ing.store.NewBuilder(true)
	for i, chunk := range pending {
		if err := builder.Add(chunk, vectors[i]); err != nil {
			ing.recordRebuild("failed")
			return nil, err
		}
	}

	snap, err := builder.Publish(ctx)
	if err != nil {
		ing.recordRebuild("failed")
		return nil, err
	}
	ing.recordRebuild("success")

	result.ChunksIndexed = len(pending)
	result.SnapshotVersion = snap.Version()

	if ing.meta != nil {
		if err := ing.meta.RecordSnapshot(ctx, snap.Version(), snap.Size()); err != nil {
			ing.logger.Warn("failed to record snapshot metadata", zap.Error(err))
		}
	}
	if ing.metrics != nil {
		ing.metrics.RecordSnapshotVersion(snap.Version())
		ing.metrics.RecordIndexSize(snap.VectorSize(), snap.Size())
	}

	ing.logger.Info("documents ingested",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(pending)),
		zap.Int64("snapshot_version", snap.Version()),
		zap.Bool("degraded", degraded),
		zap.Duration("elapsed", time.Since(started)))

	return result, nil
}

// embedChunks 批量嵌入分块文本.
// 嵌入服务不可用返回全 nil 向量（仅词法索引）而不是失败整批.
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []ingest.Chunk) ([][]float64, bool, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ing.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if types.IsCode(err, types.ErrEmbeddingUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			ing.logger.Warn("embedding unavailable, indexing lexical-only", zap.Error(err))
			if ing.metrics != nil {
				ing.metrics.RecordDegraded("embedding_unavailable")
			}
			return make([][]float64, len(chunks)), true, nil
		}
		return nil, false, err
	}
	return vectors, false, nil
}

// DeleteDocument 删除文档：元数据出库，索引侧打墓碑.
// 物理清除发生在下一次快照重建，返回被删除的分块数.
func (ing *Ingestor) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if ing.meta == nil {
		return 0, nil
	}

	ids, err := ing.meta.ChunkIDsByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		ing.store.Delete(id)
	}

	if _, err := ing.meta.DeleteByDocument(ctx, documentID); err != nil {
		return 0, err
	}

	ing.logger.Info("document deleted",
		zap.String("document_id", documentID),
		zap.Int("chunks", len(ids)))
	return len(ids), nil
}

// Rebuild 从当前快照重建并发布，物理清除累积的墓碑.
func (ing *Ingestor) Rebuild(ctx context.Context) (int64, error) {
	snap, err := ing.store.NewBuilder(true).Publish(ctx)
	if err != nil {
		ing.recordRebuild("failed")
		return 0, err
	}
	ing.recordRebuild("success")

	if ing.meta != nil {
		if err := ing.meta.RecordSnapshot(ctx, snap.Version(), snap.Size()); err != nil {
			ing.logger.Warn("failed to record snapshot metadata", zap.Error(err))
		}
	}
	if ing.metrics != nil {
		ing.metrics.RecordSnapshotVersion(snap.Version())
		ing.metrics.RecordIndexSize(snap.VectorSize(), snap.Size())
	}
	return snap.Version(), nil
}

func (ing *Ingestor) recordRebuild(status string) {
	if ing.metrics != nil {
		ing.metrics.RecordIndexRebuild(status)
	}
}
