package ingest

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/types"
)

// ChunkingConfig 分块配置.
type ChunkingConfig struct {
	// Size 每块新增内容的目标 token 数
	Size int `yaml:"size" json:"size"`

	// Overlap 相邻块之间共享的 token 数
	Overlap int `yaml:"overlap" json:"overlap"`

	// MinChunkTokens 最小块大小，低于该值的尾部碎片并入前一块
	MinChunkTokens int `yaml:"min_chunk_tokens" json:"min_chunk_tokens"`

	// BoundaryTolerance 边界搜索窗口，按 Size 的比例（如 0.15 表示 ±15%）
	BoundaryTolerance float64 `yaml:"boundary_tolerance" json:"boundary_tolerance"`
}

// DefaultChunkingConfig 返回默认分块配置.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		Size:              500,
		Overlap:           100,
		MinChunkTokens:    20,
		BoundaryTolerance: 0.15,
	}
}

// Validate 校验分块配置.
func (c ChunkingConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("overlap must be in [0, size), got %d", c.Overlap)
	}
	if c.MinChunkTokens <= 0 || c.MinChunkTokens > c.Size {
		return fmt.Errorf("min_chunk_tokens must be in (0, size], got %d", c.MinChunkTokens)
	}
	if c.BoundaryTolerance < 0 || c.BoundaryTolerance >= 1 {
		return fmt.Errorf("boundary_tolerance must be in [0, 1), got %f", c.BoundaryTolerance)
	}
	return nil
}

// ChunkBuilder 文档分块器.
// BuildChunks 是 (文档, 配置) 的纯函数，不持有跨调用状态.
type ChunkBuilder struct {
	config    ChunkingConfig
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewChunkBuilder 创建分块器.
func NewChunkBuilder(config ChunkingConfig, tokenizer Tokenizer, logger *zap.Logger) (*ChunkBuilder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ChunkBuilder{
		config:    config,
		tokenizer: tokenizer,
		logger:    logger,
	}, nil
}

// BuildChunks 将文档切分为有序的块序列，无缝覆盖全文.
//
// 相邻块共享恰好 Overlap 个 token。块边界优先落在容差窗口内的
// 句子/段落结束处，窗口内无边界时在 token 上限处硬切。
// 低于 MinChunkTokens 的尾部碎片并入前一块而不是单独产出.
func (b *ChunkBuilder) BuildChunks(doc Document) ([]Chunk, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, types.NewError(types.ErrEmptyDocument, fmt.Sprintf("document %s has no content", doc.ID))
	}

	tokens := b.tokenizer.Encode(doc.Content)
	if len(tokens) < b.config.MinChunkTokens {
		return nil, types.NewError(types.ErrChunkTooSmall,
			fmt.Sprintf("document %s has %d tokens, minimum is %d", doc.ID, len(tokens), b.config.MinChunkTokens))
	}

	// 逐 token 字节长度的前缀和，用于计算字节偏移
	cumBytes := make([]int, len(tokens)+1)
	for i, tok := range tokens {
		cumBytes[i+1] = cumBytes[i] + len(b.tokenizer.Decode([]int{tok}))
	}

	tolerance := int(float64(b.config.Size) * b.config.BoundaryTolerance)

	var chunks []Chunk
	contentStart := 0

	for ordinal := 0; contentStart < len(tokens); ordinal++ {
		tokenStart := contentStart - b.config.Overlap
		if tokenStart < 0 {
			tokenStart = 0
		}

		end := b.cutPoint(tokens, contentStart, tolerance)

		// 尾部碎片并入当前块
		if remaining := len(tokens) - end; remaining > 0 && remaining < b.config.MinChunkTokens {
			end = len(tokens)
		}

		text := b.tokenizer.Decode(tokens[tokenStart:end])
		chunks = append(chunks, Chunk{
			ChunkID: ChunkIDFor(doc.ID, ordinal, b.config.Size, b.config.Overlap),
			Text:    text,
			Position: Position{
				Ordinal:   ordinal,
				StartByte: cumBytes[tokenStart],
				EndByte:   cumBytes[end],
			},
			Provenance: Provenance{
				DocumentID:  doc.ID,
				SourceURL:   doc.SourceURL,
				License:     doc.License,
				ContentType: doc.ContentType,
				CollectedAt: doc.CollectedAt,
			},
			QualityScore: doc.QualityScore,
			Tags:         doc.Tags,
			TokenCount:   end - tokenStart,
		})

		contentStart = end
	}

	b.logger.Debug("document chunked",
		zap.String("document_id", doc.ID),
		zap.Int("tokens", len(tokens)),
		zap.Int("chunks", len(chunks)))

	return chunks, nil
}

// cutPoint 计算当前块的结束 token 下标.
// 目标位置 contentStart+Size，在 ±tolerance 窗口内从后往前找句子边界.
func (b *ChunkBuilder) cutPoint(tokens []int, contentStart, tolerance int) int {
	target := contentStart + b.config.Size
	if target >= len(tokens) {
		return len(tokens)
	}

	hi := target + tolerance
	if hi > len(tokens) {
		hi = len(tokens)
	}
	lo := target - tolerance
	if lo <= contentStart {
		lo = contentStart + 1
	}

	for i := hi - 1; i >= lo; i-- {
		if b.endsSentence(tokens[i]) {
			return i + 1
		}
	}

	// 窗口内没有边界：硬切
	return target
}

// endsSentence 判断单个 token 的文本是否以句子结束符收尾.
func (b *ChunkBuilder) endsSentence(token int) bool {
	text := strings.TrimRight(b.tokenizer.Decode([]int{token}), " \t")
	if text == "" {
		return false
	}

	runes := []rune(text)
	switch runes[len(runes)-1] {
	case '.', '。', '!', '！', '?', '？', '\n':
		return true
	}
	return false
}
