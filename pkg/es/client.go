// Package es 提供了与 Elasticsearch 向量索引交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// Elasticsearch 索引名中不允许出现的字符
var illegalIndexChars = regexp.MustCompile(`[\\/*?"<>|\s,#:]`)

// IndexName 将 (组织, 数据集) 映射为唯一的 Elasticsearch 索引名：lower(org)__lower(dataset)。
func IndexName(org, dataset string) string {
	name := strings.ToLower(org) + "__" + strings.ToLower(dataset)
	name = illegalIndexChars.ReplaceAllString(name, "_")
	// 索引名不能以 - _ + 开头
	return strings.TrimLeft(name, "-_+")
}

// NewClient 根据配置创建 Elasticsearch 客户端。APIKey 优先于用户名密码。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		APIKey:    esCfg.APIKey,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: esCfg.InsecureSkipVerify},
		},
	}
	if esCfg.APIKey == "" {
		cfg.Username = esCfg.Username
		cfg.Password = esCfg.Password
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: 创建 Elasticsearch 客户端失败: %v", model.ErrExternalService, err)
	}
	return client, nil
}

// VectorIndex 封装单个向量索引上的建索引、批量写入与 k-NN 检索。
type VectorIndex struct {
	client *elasticsearch.Client
	name   string
	dims   int
}

// NewVectorIndex 创建一个绑定到指定索引名与向量维度的 VectorIndex。
func NewVectorIndex(client *elasticsearch.Client, name string, dims int) *VectorIndex {
	return &VectorIndex{client: client, name: name, dims: dims}
}

// Name 返回索引名。
func (v *VectorIndex) Name() string {
	return v.name
}

// EnsureIndex 检查索引是否存在，如果不存在则按 dense_vector 映射创建它。
func (v *VectorIndex) EnsureIndex(ctx context.Context) error {
	res, err := v.client.Indices.Exists([]string{v.name}, v.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[VectorIndex] 检查索引 '%s' 是否存在时出错: %v", v.name, err)
		return fmt.Errorf("%w: 检查索引是否存在失败: %v", model.ErrExternalService, err)
	}
	res.Body.Close()
	// 200 说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[VectorIndex] 索引 '%s' 已存在", v.name)
		return nil
	}
	// 404 说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("[VectorIndex] 检查索引 '%s' 是否存在时收到意外的状态码: %d", v.name, res.StatusCode)
		return fmt.Errorf("%w: 检查索引是否存在时收到意外的状态码: %d", model.ErrExternalService, res.StatusCode)
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"vector_id":    map[string]interface{}{"type": "keyword"},
				"text_content": map[string]interface{}{"type": "text"},
				"vector": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       v.dims,
					"index":      true,
					"similarity": "cosine",
				},
				"region":        map[string]interface{}{"type": "keyword"},
				"source":        map[string]interface{}{"type": "keyword"},
				"chunk_index":   map[string]interface{}{"type": "integer"},
				"content_hash":  map[string]interface{}{"type": "keyword"},
				"model_version": map[string]interface{}{"type": "keyword"},
				"run_id":        map[string]interface{}{"type": "keyword"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal index mapping: %w", err)
	}

	res, err = v.client.Indices.Create(
		v.name,
		v.client.Indices.Create.WithContext(ctx),
		v.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		log.Errorf("[VectorIndex] 创建索引 '%s' 失败: %v", v.name, err)
		return fmt.Errorf("%w: 创建索引失败: %v", model.ErrExternalService, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorIndex] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", v.name, res.String())
		return fmt.Errorf("%w: 创建索引时 Elasticsearch 返回错误: %s", model.ErrExternalService, res.Status())
	}

	log.Infof("[VectorIndex] 索引 '%s' 创建成功, 维度: %d", v.name, v.dims)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert 以 _bulk index 操作批量写入文档，已存在的同 ID 文档会被覆盖。
func (v *VectorIndex) BulkUpsert(ctx context.Context, docs []model.EsDocument) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": v.name, "_id": doc.VectorID},
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk meta: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode bulk document: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Index:   v.name,
		Body:    &buf,
		Refresh: "true",
	}
	res, err := req.Do(ctx, v.client)
	if err != nil {
		log.Errorf("[VectorIndex] 批量写入 Elasticsearch 失败: %v", err)
		return fmt.Errorf("%w: bulk request failed: %v", model.ErrExternalService, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[VectorIndex] 批量写入时 Elasticsearch 返回错误: %s", res.String())
		return fmt.Errorf("%w: bulk request returned %s", model.ErrExternalService, res.Status())
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("%w: failed to decode bulk response: %v", model.ErrExternalService, err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					log.Errorf("[VectorIndex] 文档 '%s' 写入失败: %s %s", result.ID, result.Error.Type, result.Error.Reason)
					return fmt.Errorf("%w: document %s rejected: %s", model.ErrExternalService, result.ID, result.Error.Reason)
				}
			}
		}
		return fmt.Errorf("%w: bulk response reported errors", model.ErrExternalService)
	}

	log.Infof("[VectorIndex] 成功写入 %d 个文档到索引 '%s'", len(docs), v.name)
	return nil
}

// KNNSearch 使用查询向量执行近似 k-NN 检索，返回按相似度降序排列的命中。
func (v *VectorIndex) KNNSearch(ctx context.Context, vector []float32, k, numCandidates int) ([]model.SearchHit, error) {
	if numCandidates < k {
		numCandidates = k
	}
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size": k,
		"_source": map[string]interface{}{
			"excludes": []string{"vector"},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.name),
		v.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[VectorIndex] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("%w: elasticsearch search failed: %v", model.ErrExternalService, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[VectorIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("%w: elasticsearch returned an error: %s", model.ErrExternalService, res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsDocument `json:"_source"`
				Score  float64          `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[VectorIndex] 解析 Elasticsearch 响应失败: %v", err)
		return nil, fmt.Errorf("%w: failed to decode es response: %v", model.ErrExternalService, err)
	}

	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{
			TextContent: hit.Source.TextContent,
			Region:      hit.Source.Region,
			Source:      hit.Source.Source,
			ChunkIndex:  hit.Source.ChunkIndex,
			Score:       hit.Score,
		})
	}
	return hits, nil
}
