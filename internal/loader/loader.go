// Package loader 从地区目录（本地或对象存储）读取方案文档并提取文本。
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// Report 汇总一次加载：成功的文档数、被跳过的文件数以及跳过原因。
type Report struct {
	Loaded   int
	Skipped  int
	Failures []error
}

func (r *Report) merge(other Report) {
	r.Loaded += other.Loaded
	r.Skipped += other.Skipped
	r.Failures = append(r.Failures, other.Failures...)
}

// Loader 遍历 Source 中的地区与文件，按扩展名选择提取器。
type Loader struct {
	source Source
	text   Extractor
	word   Extractor
}

// New 创建 Loader。word 用于 .doc/.docx，通常由 NewWordExtractor 构建。
func New(source Source, word Extractor) *Loader {
	return &Loader{source: source, text: PlainTextExtractor{}, word: word}
}

// Regions 返回 Source 中的所有地区。
func (l *Loader) Regions(ctx context.Context) ([]string, error) {
	return l.source.Regions(ctx)
}

// Load 依次加载所有地区的文档。单个文件失败只记录并跳过；枚举失败会中止。
func (l *Loader) Load(ctx context.Context) ([]model.SchemeDocument, Report, error) {
	var report Report
	regions, err := l.source.Regions(ctx)
	if err != nil {
		return nil, report, err
	}
	var docs []model.SchemeDocument
	for _, region := range regions {
		regionDocs, regionReport, err := l.LoadRegion(ctx, region)
		report.merge(regionReport)
		if err != nil {
			return docs, report, err
		}
		docs = append(docs, regionDocs...)
	}
	log.Infof("[Loader] 加载完成: %d 个地区, 成功 %d 个文档, 跳过 %d 个文件", len(regions), report.Loaded, report.Skipped)
	return docs, report, nil
}

// LoadRegion 加载单个地区下的文档。
func (l *Loader) LoadRegion(ctx context.Context, region string) ([]model.SchemeDocument, Report, error) {
	var report Report
	refs, err := l.source.Files(ctx, region)
	if err != nil {
		return nil, report, err
	}
	log.Infof("[Loader] 正在处理地区 '%s', 共 %d 个文件", region, len(refs))

	var docs []model.SchemeDocument
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return docs, report, err
		}
		format, extractor, ok := l.extractorFor(ref.Name)
		if !ok {
			continue
		}
		text, err := l.extract(ctx, ref, extractor)
		if err != nil {
			log.Warnf("[Loader] 跳过文件 '%s': %v", ref.Path, err)
			report.Skipped++
			report.Failures = append(report.Failures, err)
			continue
		}
		docs = append(docs, model.SchemeDocument{Region: region, Path: ref.Path, Format: format, Text: text})
		report.Loaded++
	}
	return docs, report, nil
}

func (l *Loader) extract(ctx context.Context, ref FileRef, extractor Extractor) (string, error) {
	data, err := l.source.Read(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("%w: 读取 '%s' 失败: %v", model.ErrExtraction, ref.Path, err)
	}
	text, err := extractor.Extract(ctx, ref.Name, data)
	if err != nil {
		return "", fmt.Errorf("'%s': %w", ref.Path, err)
	}
	return text, nil
}

// extractorFor 按扩展名（不区分大小写）选择提取器；其他扩展名被忽略。
func (l *Loader) extractorFor(name string) (model.DocumentFormat, Extractor, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return model.FormatText, l.text, true
	case ".doc", ".docx":
		return model.FormatWord, l.word, true
	}
	return "", nil, false
}
