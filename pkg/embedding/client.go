// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	// CreateEmbeddings 批量向量化，返回结果与输入一一对应。
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type openAICompatibleClient struct {
	cfg     config.EmbeddingConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new OpenAI-compatible embedding client.
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	// RequestsPerSecond <= 0 时不限速
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Model() string {
	return c.cfg.Model
}

// CreateEmbedding returns the vector for a single text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings calls the /embeddings endpoint with a batch of inputs.
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: embedding rate limiter: %v", model.ErrExternalService, err)
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))

	reqBody := embeddingRequest{
		Model: c.cfg.Model,
		Input: texts,
	}
	// ada-002 不接受 dimensions 参数，只对 text-embedding-3-* 传递
	if c.cfg.Model != "text-embedding-ada-002" {
		reqBody.Dimensions = c.cfg.Dimensions
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("%w: failed to call embedding api: %v", model.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: embedding api returned %s: %s", model.ErrExternalService, resp.Status, string(body))
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("%w: failed to decode embedding response: %v", model.ErrExternalService, err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding api returned %d vectors for %d inputs", model.ErrExternalService, len(embeddingResp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: embedding api returned an invalid item (index %d)", model.ErrExternalService, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: embedding api returned no vector for input %d", model.ErrExternalService, i)
		}
	}

	log.Infof("[EmbeddingClient] 成功获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}
