package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/ragforge/types"
)

// OpenAIConfig OpenAI 兼容提供者配置。
// BaseURL 可指向任何实现 /v1/chat/completions 与 /v1/embeddings
// 的兼容网关（vLLM、Ollama、LiteLLM 等）。
type OpenAIConfig struct {
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	APIKey         string        `json:"api_key" yaml:"api_key"`
	ChatModel      string        `json:"chat_model" yaml:"chat_model"`
	EmbeddingModel string        `json:"embedding_model" yaml:"embedding_model"`
	Dimensions     int           `json:"dimensions" yaml:"dimensions"`
	Temperature    float64       `json:"temperature" yaml:"temperature"`
	MaxTokens      int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultOpenAIConfig 返回默认配置。
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:        "https://api.openai.com",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Dimensions:     1536,
		Temperature:    0.2,
		MaxTokens:      2048,
		Timeout:        60 * time.Second,
	}
}

// OpenAIProvider 同时实现 Generator 与 EmbeddingProvider。
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider 创建 OpenAI 兼容提供者。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	def := DefaultOpenAIConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements Generator.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       p.cfg.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}

	respBody, err := p.doRequest(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.TransientError("chat response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery implements EmbeddingProvider.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments implements EmbeddingProvider.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedRequest{
		Input:      texts,
		Model:      p.cfg.EmbeddingModel,
		Dimensions: p.cfg.Dimensions,
	}

	respBody, err := p.doRequest(ctx, "/v1/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response length mismatch: got %d, want %d",
			len(resp.Data), len(texts))
	}

	// 响应顺序不保证与输入一致，按 index 归位
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embeddings response index out of range: %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Dimensions implements EmbeddingProvider.
func (p *OpenAIProvider) Dimensions() int {
	return p.cfg.Dimensions
}

func (p *OpenAIProvider) doRequest(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.TransientError("upstream request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.TransientError("read upstream response", err)
	}

	if resp.StatusCode >= 400 {
		e := types.NewError(types.ErrTransientBackend,
			fmt.Sprintf("upstream %s returned %d: %s", endpoint, resp.StatusCode, truncate(string(respBody), 200)))
		// 4xx（限流除外）重试无意义
		e.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, e
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
