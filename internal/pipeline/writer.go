package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/internal/repository"
	"scheme-rag-go/pkg/embedding"
	"scheme-rag-go/pkg/log"
)

// VectorStore 是写入端需要的向量索引操作，由 es.VectorIndex 实现。
type VectorStore interface {
	Name() string
	EnsureIndex(ctx context.Context) error
	BulkUpsert(ctx context.Context, docs []model.EsDocument) error
}

// ContentHash 由地区、来源与分块文本计算 sha256，用作 content_hash 策略下的文档 ID。
func ContentHash(region, source, text string) string {
	h := sha256.New()
	h.Write([]byte(region))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// WriteReport 汇总一次写入。
type WriteReport struct {
	Written     int
	AlreadySeen int
}

// Writer 批量向量化分块并写入向量索引。
type Writer struct {
	embedder  embedding.Client
	store     VectorStore
	batchSize int
	policy    string
	ledger    repository.ChunkLedgerRepository
}

// NewWriter 创建 Writer。ledger 可以为 nil，仅在 content_hash 策略下使用。
func NewWriter(embedder embedding.Client, store VectorStore, batchSize int, policy string, ledger repository.ChunkLedgerRepository) *Writer {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Writer{embedder: embedder, store: store, batchSize: batchSize, policy: policy, ledger: ledger}
}

// Write 确保索引存在后分批向量化并写入。任一批失败即中止，已写入的批次不回滚。
func (w *Writer) Write(ctx context.Context, runID string, chunks []model.SchemeChunk) (WriteReport, error) {
	var report WriteReport
	if err := w.store.EnsureIndex(ctx); err != nil {
		return report, err
	}

	for i := range chunks {
		chunks[i].ContentHash = ContentHash(chunks[i].Region, chunks[i].Source, chunks[i].TextContent)
	}
	pending := chunks
	if w.policy == config.DedupeContentHash && w.ledger != nil {
		var err error
		pending, err = w.filterSeen(ctx, chunks)
		if err != nil {
			return report, err
		}
		report.AlreadySeen = len(chunks) - len(pending)
		if report.AlreadySeen > 0 {
			log.Infof("[Writer] %d 个分块此前已写入索引 '%s'，跳过向量化", report.AlreadySeen, w.store.Name())
		}
	}

	for start := 0; start < len(pending); start += w.batchSize {
		end := start + w.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		if err := w.writeBatch(ctx, runID, batch); err != nil {
			log.Errorf("[Writer] 写入第 %d-%d 个分块失败: %v", start+1, end, err)
			return report, err
		}
		report.Written += len(batch)
		log.Infof("[Writer] 已写入 %d/%d 个分块", report.Written, len(pending))
	}
	return report, nil
}

func (w *Writer) writeBatch(ctx context.Context, runID string, batch []model.SchemeChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.TextContent
	}
	vectors, err := w.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: 期望 %d 个向量, 实际 %d 个", model.ErrExternalService, len(batch), len(vectors))
	}

	docs := make([]model.EsDocument, len(batch))
	hashes := make([]string, len(batch))
	for i, c := range batch {
		id := uuid.NewString()
		if w.policy == config.DedupeContentHash {
			id = c.ContentHash
		}
		docs[i] = model.EsDocument{
			VectorID:     id,
			TextContent:  c.TextContent,
			Vector:       vectors[i],
			Region:       c.Region,
			Source:       c.Source,
			ChunkIndex:   c.ChunkIndex,
			ContentHash:  c.ContentHash,
			ModelVersion: w.embedder.Model(),
			RunID:        runID,
		}
		hashes[i] = c.ContentHash
	}
	if err := w.store.BulkUpsert(ctx, docs); err != nil {
		return err
	}

	if w.policy == config.DedupeContentHash && w.ledger != nil {
		if err := w.ledger.Mark(ctx, hashes); err != nil {
			return fmt.Errorf("%w: 更新分块台账失败: %v", model.ErrExternalService, err)
		}
	}
	return nil
}

// filterSeen 去掉台账中已记录的分块，同一批内重复的分块只保留第一个。
func (w *Writer) filterSeen(ctx context.Context, chunks []model.SchemeChunk) ([]model.SchemeChunk, error) {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.ContentHash
	}
	seen, err := w.ledger.Seen(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取分块台账失败: %v", model.ErrExternalService, err)
	}
	pending := make([]model.SchemeChunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.ContentHash] {
			continue
		}
		seen[c.ContentHash] = true
		pending = append(pending, c)
	}
	return pending, nil
}
