// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/model"
	"scheme-rag-go/pkg/log"
	"scheme-rag-go/pkg/tasks"
)

// MaxAttempts 是单个地区任务的最大处理次数，达到后提交 offset 放弃该任务。
const MaxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.RegionIngestTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Producer 将地区导入任务发送到 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("[Kafka] 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceRegionTask 发送一个地区导入任务。
func (p *Producer) ProduceRegionTask(ctx context.Context, task tasks.RegionIngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Region), Value: taskBytes}); err != nil {
		return fmt.Errorf("%w: 发送 Kafka 消息失败: %v", model.ErrExternalService, err)
	}
	return nil
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// StartConsumer 启动一个 Kafka 消费者来处理地区任务，直到 ctx 被取消或读取失败。
// 失败的任务重新投递到主题，累计 MaxAttempts 次后放弃。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter, requeue *Producer) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	h := &messageHandler{processor: processor, counter: counter, requeue: requeue.ProduceRegionTask}
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("[Kafka] 消费者收到退出信号")
				return nil
			}
			log.Error("[Kafka] 从 Kafka 读取消息失败", err)
			return fmt.Errorf("%w: %v", model.ErrExternalService, err)
		}
		log.Infof("[Kafka] 收到消息: offset %d", m.Offset)

		if !h.handle(ctx, m.Value) {
			// 重新投递失败时不提交 offset，消费者重启后会再次读取
			continue
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Kafka] 提交消息 offset 失败: %v", err)
		}
	}
}

type messageHandler struct {
	processor TaskProcessor
	counter   AttemptCounter
	requeue   func(ctx context.Context, task tasks.RegionIngestTask) error
}

// handle 处理一条消息，返回是否可以提交 offset。
func (h *messageHandler) handle(ctx context.Context, value []byte) bool {
	var task tasks.RegionIngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(value))
		return true
	}

	log.Infof("[Kafka] 开始处理地区任务: run=%s, region=%s", task.RunID, task.Region)
	err := h.processor.Process(ctx, task)
	if err == nil {
		log.Infof("[Kafka] 地区任务处理成功: region=%s", task.Region)
		_ = h.counter.Reset(ctx, task.AttemptKey())
		return true
	}

	log.Errorf("[Kafka] 处理地区任务失败: region=%s, error: %v", task.Region, err)
	attempts, incErr := h.counter.Incr(ctx, task.AttemptKey())
	if incErr != nil {
		// 计数异常时保守处理：不提交 offset
		log.Errorf("[Kafka] 记录失败次数出错: %v", incErr)
		return false
	}
	if attempts >= MaxAttempts {
		log.Errorf("[Kafka] 地区任务多次失败(>=%d)，提交 offset 终止重试: region=%s", MaxAttempts, task.Region)
		_ = h.counter.Reset(ctx, task.AttemptKey())
		return true
	}
	if err := h.requeue(ctx, task); err != nil {
		log.Errorf("[Kafka] 重新投递地区任务失败: %v", err)
		return false
	}
	log.Warnf("[Kafka] 地区任务已重新投递: region=%s, attempts=%d", task.Region, attempts)
	return true
}

// RedisAttemptCounter 使用 Redis INCR 计数，键 24 小时后过期。
type RedisAttemptCounter struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 创建基于 Redis 的失败计数器。
func NewRedisAttemptCounter(rdb *redis.Client) *RedisAttemptCounter {
	return &RedisAttemptCounter{rdb: rdb}
}

func (c *RedisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	attempts, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts, nil
}

func (c *RedisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// MemoryAttemptCounter 是进程内计数器，未配置 Redis 时使用；重启后计数丢失。
type MemoryAttemptCounter struct {
	mu       sync.Mutex
	attempts map[string]int64
}

// NewMemoryAttemptCounter 创建进程内失败计数器。
func NewMemoryAttemptCounter() *MemoryAttemptCounter {
	return &MemoryAttemptCounter{attempts: make(map[string]int64)}
}

func (c *MemoryAttemptCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[key]++
	return c.attempts[key], nil
}

func (c *MemoryAttemptCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, key)
	return nil
}
