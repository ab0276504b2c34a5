package service

import (
	"context"
	"fmt"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/embedding"
	"scheme-rag-go/pkg/log"
)

// VectorSearcher 是检索端需要的向量索引操作，由 es.VectorIndex 实现。
type VectorSearcher interface {
	KNNSearch(ctx context.Context, vector []float32, k, numCandidates int) ([]model.SearchHit, error)
}

// Retriever 接口定义了检索操作。
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]model.SearchHit, error)
}

type retriever struct {
	embeddingClient embedding.Client
	index           VectorSearcher
	topK            int
	candidateFactor int
}

// NewRetriever 创建一个新的 Retriever 实例。
func NewRetriever(embeddingClient embedding.Client, index VectorSearcher, cfg config.RetrieverConfig) Retriever {
	factor := cfg.CandidateFactor
	if factor < 1 {
		factor = 1
	}
	return &retriever{
		embeddingClient: embeddingClient,
		index:           index,
		topK:            cfg.TopK,
		candidateFactor: factor,
	}
}

// Retrieve 向量化查询并返回最相似的 topK 个分块。
func (r *retriever) Retrieve(ctx context.Context, query string) ([]model.SearchHit, error) {
	queryVector, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[Retriever] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	hits, err := r.index.KNNSearch(ctx, queryVector, r.topK, r.topK*r.candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	log.Infof("[Retriever] 检索到 %d 个分块 (topK=%d)", len(hits), r.topK)
	return hits, nil
}
