package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/retrievalflow/types"
)

// OpenAIConfig OpenAI 嵌入提供者配置.
type OpenAIConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// OpenAIProvider 通过 OpenAI API 实现嵌入.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider 创建 OpenAI 嵌入提供者.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAIProvider) Name() string      { return "openai-embedding" }
func (p *OpenAIProvider) Dimensions() int   { return p.cfg.Dimensions }
func (p *OpenAIProvider) MaxBatchSize() int { return 2048 }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed 为给定输入生成嵌入.
func (p *OpenAIProvider) Embed(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	respBody, err := p.doRequest(ctx, openAIEmbedRequest{
		Input:      req.Input,
		Model:      model,
		Dimensions: dims,
	})
	if err != nil {
		return nil, err
	}

	var oaResp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, types.NewError(types.ErrUpstreamFormat, "failed to decode embedding response").
			WithCause(err).WithProvider(p.Name())
	}

	// 按 index 还原顺序
	embeddings := make([][]float64, len(req.Input))
	for _, d := range oaResp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, types.NewError(types.ErrUpstreamFormat,
				fmt.Sprintf("embedding index %d out of range", d.Index)).WithProvider(p.Name())
		}
		embeddings[d.Index] = d.Embedding
	}

	return &Response{
		Provider:   p.Name(),
		Model:      oaResp.Model,
		Embeddings: embeddings,
		Usage: Usage{
			PromptTokens: oaResp.Usage.PromptTokens,
			TotalTokens:  oaResp.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// doRequest 执行 HTTP 请求并映射常见错误.
func (p *OpenAIProvider) doRequest(ctx context.Context, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(p.Name())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), p.Name())
	}

	return respBody, nil
}

// mapHTTPError 将 HTTP 状态映射为 types.Error.
func mapHTTPError(status int, msg, provider string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500

	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}
