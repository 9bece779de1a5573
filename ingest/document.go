package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Document 规范化后的原始内容单元（由采集/清洗协作方产出，接受后不可变）.
type Document struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	SourceURL    string    `json:"source_url"`
	License      string    `json:"license"`
	CollectedAt  time.Time `json:"collected_at"`
	ContentType  string    `json:"content_type"`
	QualityScore *float64  `json:"quality_score,omitempty"` // 0.0-1.0
	Tags         []string  `json:"tags,omitempty"`          // stack/category/language
}

// Provenance 块的来源信息. SourceURL、License、CollectedAt 为必填.
type Provenance struct {
	DocumentID  string    `json:"document_id"`
	SourceURL   string    `json:"source_url"`
	License     string    `json:"license"`
	ContentType string    `json:"content_type,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Position 块在源文档中的位置，用于重建重叠.
type Position struct {
	Ordinal   int `json:"ordinal"`
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

// Chunk 原子索引单元.
type Chunk struct {
	ChunkID      string     `json:"chunk_id"`
	Text         string     `json:"text"`
	Position     Position   `json:"position"`
	Provenance   Provenance `json:"provenance"`
	QualityScore *float64   `json:"quality_score,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	TokenCount   int        `json:"token_count"`
}

// ChunkIDFor 计算确定性的块标识.
// 给定 (文档 ID, 序号, 分块配置) 结果稳定，重复摄取不会产生重复插入.
func ChunkIDFor(documentID string, ordinal, size, overlap int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d", documentID, ordinal, size, overlap)))
	return hex.EncodeToString(sum[:])[:16]
}

// ContentHash 返回文本内容的 sha256，用于嵌入缓存与变更检测.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
