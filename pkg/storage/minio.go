// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
)

// NewMinIO 创建 MinIO 客户端，并确认存放方案文档的存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 初始化 MinIO 客户端失败: %v", model.ErrExternalService, err)
	}
	log.Info("[Storage] MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("%w: 检查 MinIO 存储桶失败: %v", model.ErrExternalService, err)
	}
	// 导入只读取文档，存储桶必须由运维预先创建
	if !exists {
		return nil, fmt.Errorf("%w: 存储桶 '%s' 不存在", model.ErrExternalService, cfg.BucketName)
	}
	log.Infof("[Storage] 存储桶 '%s' 已存在", cfg.BucketName)
	return client, nil
}
