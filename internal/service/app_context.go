package service

import (
	"scheme-rag-go/internal/config"
	"scheme-rag-go/pkg/embedding"
	"scheme-rag-go/pkg/es"
	"scheme-rag-go/pkg/llm"
)

// AppContext 持有服务端共享的客户端与服务，启动时构建一次，之后只读。
type AppContext struct {
	index       *es.VectorIndex
	recommender RecommendService
}

// NewAppContext 根据已校验的配置构建所有依赖。
func NewAppContext(cfg *config.Config) (*AppContext, error) {
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		return nil, err
	}
	index := es.NewVectorIndex(esClient, es.IndexName(cfg.Elasticsearch.OrgID, cfg.Elasticsearch.Dataset), cfg.Embedding.Dimensions)
	embedder := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	chain := NewQAChain(NewRetriever(embedder, index, cfg.Retriever), llmClient, llm.GenerationParamsFromConfig(cfg.LLM.Generation))
	return &AppContext{
		index:       index,
		recommender: NewRecommendService(chain),
	}, nil
}

// Recommender 返回推荐服务。
func (a *AppContext) Recommender() RecommendService {
	return a.recommender
}

// IndexName 返回服务端检索的向量索引名。
func (a *AppContext) IndexName() string {
	return a.index.Name()
}
