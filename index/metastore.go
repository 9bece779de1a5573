package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/retrievalflow/ingest"
)

// ChunkRecord 分块元数据表.
// 向量与倒排索引驻内存并按快照落盘，元数据单独入库，
// 供来源追溯与统计查询使用.
type ChunkRecord struct {
	ChunkID      string    `gorm:"primaryKey;size:16"`
	DocumentID   string    `gorm:"index;size:128"`
	Ordinal      int       `gorm:"index"`
	StartByte    int       ``
	EndByte      int       ``
	TokenCount   int       ``
	SourceURL    string    `gorm:"size:2048"`
	License      string    `gorm:"index;size:64"`
	ContentType  string    `gorm:"size:64"`
	CollectedAt  time.Time ``
	QualityScore *float64  ``
	Tags         string    `gorm:"size:1024"` // comma-joined
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名.
func (ChunkRecord) TableName() string { return "chunks" }

// SnapshotRecord 快照发布记录表.
type SnapshotRecord struct {
	Version    int64     `gorm:"primaryKey"`
	ChunkCount int       ``
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName 指定表名.
func (SnapshotRecord) TableName() string { return "snapshots" }

// MetaStoreConfig 元数据库配置.
type MetaStoreConfig struct {
	// Path sqlite 数据库文件路径，":memory:" 表示内存库
	Path string `yaml:"path" json:"path"`
}

// DefaultMetaStoreConfig 返回默认元数据库配置.
func DefaultMetaStoreConfig() MetaStoreConfig {
	return MetaStoreConfig{Path: "retrievalflow.db"}
}

// MetaStore 基于 GORM + sqlite 的分块元数据存储.
type MetaStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMetaStore 打开元数据库并自动迁移表结构.
func NewMetaStore(config MetaStoreConfig, logger *zap.Logger) (*MetaStore, error) {
	db, err := gorm.Open(sqlite.Open(config.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata db: %w", err)
	}

	if err := db.AutoMigrate(&ChunkRecord{}, &SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate metadata db: %w", err)
	}

	logger.Info("metadata store ready", zap.String("path", config.Path))
	return &MetaStore{db: db, logger: logger}, nil
}

// SaveChunks 批量写入分块元数据（存在则更新）.
func (m *MetaStore) SaveChunks(ctx context.Context, chunks []ingest.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	records := make([]ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = ChunkRecord{
			ChunkID:      c.ChunkID,
			DocumentID:   c.Provenance.DocumentID,
			Ordinal:      c.Position.Ordinal,
			StartByte:    c.Position.StartByte,
			EndByte:      c.Position.EndByte,
			TokenCount:   c.TokenCount,
			SourceURL:    c.Provenance.SourceURL,
			License:      c.Provenance.License,
			ContentType:  c.Provenance.ContentType,
			CollectedAt:  c.Provenance.CollectedAt,
			QualityScore: c.QualityScore,
			Tags:         strings.Join(c.Tags, ","),
		}
	}

	return m.db.WithContext(ctx).Save(&records).Error
}

// DeleteByDocument 删除文档的全部分块元数据，返回删除数.
func (m *MetaStore) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	res := m.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&ChunkRecord{})
	return res.RowsAffected, res.Error
}

// ChunkIDsByDocument 返回文档的分块 ID，按序号升序.
func (m *MetaStore) ChunkIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	err := m.db.WithContext(ctx).
		Model(&ChunkRecord{}).
		Where("document_id = ?", documentID).
		Order("ordinal asc").
		Pluck("chunk_id", &ids).Error
	return ids, err
}

// RecordSnapshot 记录一次快照发布.
func (m *MetaStore) RecordSnapshot(ctx context.Context, version int64, chunkCount int) error {
	return m.db.WithContext(ctx).Save(&SnapshotRecord{
		Version:    version,
		ChunkCount: chunkCount,
	}).Error
}

// Stats 元数据统计.
type Stats struct {
	TotalChunks    int64 `json:"total_chunks"`
	TotalDocuments int64 `json:"total_documents"`
	LatestVersion  int64 `json:"latest_version"`
}

// GetStats 返回分块与快照统计.
func (m *MetaStore) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	if err := m.db.WithContext(ctx).Model(&ChunkRecord{}).Count(&stats.TotalChunks).Error; err != nil {
		return nil, err
	}
	if err := m.db.WithContext(ctx).Model(&ChunkRecord{}).
		Distinct("document_id").Count(&stats.TotalDocuments).Error; err != nil {
		return nil, err
	}

	var latest SnapshotRecord
	err := m.db.WithContext(ctx).Order("version desc").First(&latest).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	stats.LatestVersion = latest.Version

	return &stats, nil
}

// Close 关闭底层连接.
func (m *MetaStore) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
