package main

import (
	"context"

	"github.com/go-redis/redis/v8"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/loader"
	"scheme-rag-go/internal/pipeline"
	"scheme-rag-go/internal/repository"
	"scheme-rag-go/pkg/database"
	"scheme-rag-go/pkg/embedding"
	"scheme-rag-go/pkg/es"
	"scheme-rag-go/pkg/log"
	"scheme-rag-go/pkg/storage"
	"scheme-rag-go/pkg/tika"
)

type ingestDeps struct {
	processor *pipeline.Processor
	indexName string
	redis     *redis.Client
	closers   []func() error
}

func (d *ingestDeps) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			log.Warnf("[Ingest] 释放资源失败: %v", err)
		}
	}
}

// buildLoader 根据 ingest.source 选择本地目录或 MinIO 作为文档来源。
func buildLoader(ctx context.Context, cfg *config.Config) (*loader.Loader, error) {
	var source loader.Source
	switch cfg.Ingest.Source {
	case config.SourceMinIO:
		client, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		source = loader.NewMinIOSource(client, cfg.MinIO)
		log.Infof("[Ingest] 文档来源: minio://%s/%s", cfg.MinIO.BucketName, cfg.MinIO.Prefix)
	default:
		source = loader.FSSource{Root: cfg.Ingest.RootDir}
		log.Infof("[Ingest] 文档来源: %s", cfg.Ingest.RootDir)
	}

	var tikaClient *tika.Client
	if cfg.Tika.ServerURL != "" {
		tikaClient = tika.NewClient(cfg.Tika)
	}
	word := loader.NewWordExtractor(tikaClient)
	log.Infof("[Ingest] Word 文档提取策略: %s", word.Name())
	return loader.New(source, word), nil
}

// buildIngestDeps 构建导入流程的全部依赖。MySQL 与 Redis 均为可选。
func buildIngestDeps(ctx context.Context, cfg *config.Config) (*ingestDeps, error) {
	deps := &ingestDeps{}

	l, err := buildLoader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	splitter, err := pipeline.NewRecursiveSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		return nil, err
	}
	index := es.NewVectorIndex(esClient, es.IndexName(cfg.Elasticsearch.OrgID, cfg.Elasticsearch.Dataset), cfg.Embedding.Dimensions)
	deps.indexName = index.Name()

	var chunkRepo repository.SchemeChunkRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		chunkRepo = repository.NewSchemeChunkRepository(db)
		if sqlDB, err := db.DB(); err == nil {
			deps.closers = append(deps.closers, sqlDB.Close)
		}
	}

	var ledger repository.ChunkLedgerRepository
	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.redis = rdb
		deps.closers = append(deps.closers, rdb.Close)
		if cfg.Ingest.DedupePolicy == config.DedupeContentHash {
			ledger = repository.NewChunkLedgerRepository(rdb, index.Name())
		}
	}

	writer := pipeline.NewWriter(embedding.NewClient(cfg.Embedding), index, cfg.Embedding.BatchSize, cfg.Ingest.DedupePolicy, ledger)
	deps.processor = pipeline.NewProcessor(l, splitter, writer, chunkRepo)
	return deps, nil
}
