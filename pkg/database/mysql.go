// Package database 负责创建 MySQL 与 Redis 连接。
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// NewMySQL 打开 MySQL 连接、配置连接池并迁移分块暂存表。
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect database: %v", model.ErrExternalService, err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get sql.DB: %v", model.ErrExternalService, err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&model.SchemeChunk{}); err != nil {
		return nil, fmt.Errorf("%w: 迁移 scheme_chunks 表失败: %v", model.ErrExternalService, err)
	}

	log.Info("[Database] MySQL database connected successfully")
	return db, nil
}
