// Package pipeline 定义了方案文档离线导入的核心流程：清洗、切分、向量化与写入索引。
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"scheme-rag-go/internal/loader"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/internal/repository"
	"scheme-rag-go/pkg/log"
	"scheme-rag-go/pkg/tasks"
)

// RunReport 汇总一次导入。
type RunReport struct {
	RunID       string
	Documents   int
	Skipped     int
	Chunks      int
	Written     int
	AlreadySeen int
}

// Processor 封装了导入流程的所有依赖和逻辑。
type Processor struct {
	loader    *loader.Loader
	splitter  *RecursiveSplitter
	writer    *Writer
	chunkRepo repository.SchemeChunkRepository
}

// NewProcessor 创建一个新的 Processor 实例。chunkRepo 为 nil 时不暂存分块。
func NewProcessor(l *loader.Loader, splitter *RecursiveSplitter, writer *Writer, chunkRepo repository.SchemeChunkRepository) *Processor {
	return &Processor{loader: l, splitter: splitter, writer: writer, chunkRepo: chunkRepo}
}

// Run 导入 Source 中的全部地区。
func (p *Processor) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: uuid.NewString()}
	log.Infof("[Processor] 开始导入, run: %s", report.RunID)

	log.Info("[Processor] 步骤1: 加载地区文档")
	docs, loadReport, err := p.loader.Load(ctx)
	report.Documents, report.Skipped = loadReport.Loaded, loadReport.Skipped
	if err != nil {
		log.Errorf("[Processor] 加载文档失败: %v", err)
		return report, err
	}
	return p.ingest(ctx, report, docs)
}

// Process 导入单个地区，实现 kafka.TaskProcessor。
func (p *Processor) Process(ctx context.Context, task tasks.RegionIngestTask) error {
	report := RunReport{RunID: task.RunID}
	if report.RunID == "" {
		report.RunID = uuid.NewString()
	}
	log.Infof("[Processor] 开始导入地区 '%s', run: %s", task.Region, report.RunID)

	docs, loadReport, err := p.loader.LoadRegion(ctx, task.Region)
	report.Documents, report.Skipped = loadReport.Loaded, loadReport.Skipped
	if err != nil {
		return err
	}
	_, err = p.ingest(ctx, report, docs)
	return err
}

func (p *Processor) ingest(ctx context.Context, report RunReport, docs []model.SchemeDocument) (RunReport, error) {
	if len(docs) == 0 {
		log.Warnf("[Processor] 没有可导入的文档, run: %s", report.RunID)
		return report, nil
	}

	log.Infof("[Processor] 步骤2: 清洗 %d 个文档", len(docs))
	for i := range docs {
		docs[i].Text = Clean(docs[i].Text)
	}

	log.Infof("[Processor] 步骤3: 文本分块, chunkSize: %d, chunkOverlap: %d", p.splitter.ChunkSize, p.splitter.ChunkOverlap)
	chunks := p.splitter.SplitDocuments(docs)
	for i := range chunks {
		chunks[i].RunID = report.RunID
	}
	report.Chunks = len(chunks)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		return report, nil
	}

	if p.chunkRepo != nil {
		log.Info("[Processor] 步骤4: 将分块暂存到数据库")
		rows := make([]*model.SchemeChunk, len(chunks))
		for i := range chunks {
			c := chunks[i]
			c.ContentHash = ContentHash(c.Region, c.Source, c.TextContent)
			rows[i] = &c
		}
		if err := p.chunkRepo.BatchCreate(ctx, rows); err != nil {
			log.Errorf("[Processor] 批量保存分块到数据库失败: %v", err)
			return report, fmt.Errorf("%w: 批量保存分块失败: %v", model.ErrExternalService, err)
		}
	}

	log.Info("[Processor] 步骤5: 向量化并写入索引")
	writeReport, err := p.writer.Write(ctx, report.RunID, chunks)
	report.Written, report.AlreadySeen = writeReport.Written, writeReport.AlreadySeen
	if err != nil {
		return report, err
	}

	log.Infof("[Processor] 导入完成, run: %s, 文档: %d, 跳过: %d, 分块: %d, 写入: %d",
		report.RunID, report.Documents, report.Skipped, report.Chunks, report.Written)
	return report, nil
}
