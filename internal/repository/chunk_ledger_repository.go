package repository

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// ChunkLedgerRepository 记录某个索引已经写入过的分块内容哈希。
type ChunkLedgerRepository interface {
	// Seen 返回 hashes 中已记录的哈希集合。
	Seen(ctx context.Context, hashes []string) (map[string]bool, error)
	Mark(ctx context.Context, hashes []string) error
}

type redisChunkLedger struct {
	redisClient *redis.Client
	key         string
}

// NewChunkLedgerRepository 创建基于 Redis 集合 ingest:seen:<index> 的分块台账。
func NewChunkLedgerRepository(redisClient *redis.Client, indexName string) ChunkLedgerRepository {
	return &redisChunkLedger{redisClient: redisClient, key: "ingest:seen:" + indexName}
}

func (r *redisChunkLedger) Seen(ctx context.Context, hashes []string) (map[string]bool, error) {
	seen := make(map[string]bool)
	if len(hashes) == 0 {
		return seen, nil
	}
	pipe := r.redisClient.Pipeline()
	cmds := make([]*redis.BoolCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.SIsMember(ctx, r.key, h)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for i, cmd := range cmds {
		if cmd.Val() {
			seen[hashes[i]] = true
		}
	}
	return seen, nil
}

func (r *redisChunkLedger) Mark(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	members := make([]interface{}, len(hashes))
	for i, h := range hashes {
		members[i] = h
	}
	return r.redisClient.SAdd(ctx, r.key, members...).Err()
}
