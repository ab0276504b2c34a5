package model

import "time"

// DocumentFormat 标识文档的解析方式。
type DocumentFormat string

const (
	FormatText DocumentFormat = "text"
	FormatWord DocumentFormat = "word"
)

// SchemeDocument 是从某个地区目录读取并提取出文本的单个方案文档。
type SchemeDocument struct {
	Region string
	Path   string
	Format DocumentFormat
	Text   string
}

// SchemeChunk 是文档切分后的文本分块，同时对应数据库中的 scheme_chunks 暂存表。
// Region/Source/ChunkIndex 保留分块来源。
type SchemeChunk struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:id"`
	RunID       string    `gorm:"type:varchar(36);not null;index;column:run_id"`
	Region      string    `gorm:"type:varchar(100);index;column:region"`
	Source      string    `gorm:"type:varchar(512);column:source"`
	ChunkIndex  int       `gorm:"not null;column:chunk_index"`
	TextContent string    `gorm:"type:text;column:text_content"`
	ContentHash string    `gorm:"type:char(64);index;column:content_hash"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (SchemeChunk) TableName() string {
	return "scheme_chunks"
}
