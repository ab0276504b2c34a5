package model

// EsDocument 定义了存储在 Elasticsearch 向量索引中的文档结构。
type EsDocument struct {
	VectorID     string    `json:"vector_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	Region       string    `json:"region"`
	Source       string    `json:"source"`
	ChunkIndex   int       `json:"chunk_index"`
	ContentHash  string    `json:"content_hash"`
	ModelVersion string    `json:"model_version"`
	RunID        string    `json:"run_id"`
}

// SearchHit 是一次 k-NN 检索命中的分块。
type SearchHit struct {
	TextContent string  `json:"textContent"`
	Region      string  `json:"region"`
	Source      string  `json:"source"`
	ChunkIndex  int     `json:"chunkIndex"`
	Score       float64 `json:"score"`
}
