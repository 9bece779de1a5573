package embedding

import (
	"context"
	"time"
)

// Request 表示生成嵌入的请求.
type Request struct {
	Input     []string  `json:"input"`                // Text inputs to embed
	Model     string    `json:"model,omitempty"`      // Model to use
	Dimensions int      `json:"dimensions,omitempty"` // Output dimensions
	InputType InputType `json:"input_type,omitempty"` // query or document
}

// InputType 指定嵌入优化的输入类型.
type InputType string

const (
	InputTypeQuery    InputType = "query"    // For search queries
	InputTypeDocument InputType = "document" // For documents to be indexed
)

// Response 表示嵌入请求的响应.
type Response struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	Usage      Usage       `json:"usage"`
	CreatedAt  time.Time   `json:"created_at,omitempty"`
}

// Usage 表示嵌入请求的 Token 用量.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed 为给定输入生成嵌入.
	Embed(ctx context.Context, req *Request) (*Response, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回嵌入维度.
	Dimensions() int

	// MaxBatchSize 返回支持的最大批量大小.
	MaxBatchSize() int
}
