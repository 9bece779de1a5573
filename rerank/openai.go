package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/retrievalflow/types"
)

// OpenAIConfig OpenAI 相关性协作方配置.
type OpenAIConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// OpenAIProvider 通过 chat completions 评估相关性与生成理由.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider 创建 OpenAI 相关性协作方.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

const scorePrompt = `Given the query and document, rate the relevance on a scale of 0-10.
Reply with a single number only.

Query: %s

Document: %s

Relevance score (0-10):`

const rationalePrompt = `In one short sentence, explain why the document below is relevant to the query.

Query: %s

Document: %s`

// ScoreRelevance 评估查询-文档相关性.
func (p *OpenAIProvider) ScoreRelevance(ctx context.Context, query, document string) (float64, error) {
	content, err := p.complete(ctx, fmt.Sprintf(scorePrompt, query, document))
	if err != nil {
		return 0, err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return 0, types.NewError(types.ErrUpstreamFormat,
			fmt.Sprintf("unparseable relevance score %q", content)).WithProvider("openai-rerank")
	}
	return score, nil
}

// ExplainRelevance 生成相关性理由.
func (p *OpenAIProvider) ExplainRelevance(ctx context.Context, query, document string) (string, error) {
	return p.complete(ctx, fmt.Sprintf(rationalePrompt, query, document))
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) complete(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(chatRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   120,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrRerankUnavailable, err.Error()).
			WithRetryable(true).WithProvider("openai-rerank")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", types.NewError(types.ErrRerankUnavailable,
			fmt.Sprintf("upstream status %d: %s", resp.StatusCode, string(body))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests).
			WithProvider("openai-rerank")
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return "", types.NewError(types.ErrUpstreamFormat, "failed to decode chat response").
			WithCause(err).WithProvider("openai-rerank")
	}
	if len(chat.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamFormat, "empty chat response").WithProvider("openai-rerank")
	}
	return chat.Choices[0].Message.Content, nil
}
