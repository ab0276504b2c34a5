// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"

	"gorm.io/gorm"

	"scheme-rag-go/internal/model"
)

// SchemeChunkRepository 定义了对 scheme_chunks 暂存表的数据操作接口。
type SchemeChunkRepository interface {
	BatchCreate(ctx context.Context, chunks []*model.SchemeChunk) error
	CountByRunID(ctx context.Context, runID string) (int64, error)
}

type schemeChunkRepository struct {
	db *gorm.DB
}

// NewSchemeChunkRepository 创建一个新的 SchemeChunkRepository 实例。
func NewSchemeChunkRepository(db *gorm.DB) SchemeChunkRepository {
	return &schemeChunkRepository{db: db}
}

// BatchCreate 批量写入一次导入的分块记录。
func (r *schemeChunkRepository) BatchCreate(ctx context.Context, chunks []*model.SchemeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(chunks, 100).Error // 每100条记录一批
}

// CountByRunID 统计某次导入暂存的分块数。
func (r *schemeChunkRepository) CountByRunID(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.SchemeChunk{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}
