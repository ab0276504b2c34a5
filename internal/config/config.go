// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"scheme-rag-go/internal/model"
)

// 必需的环境变量：embedding/聊天模型共用的 API Key 与向量库访问令牌。
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvVectorStoreToken = "VECTOR_STORE_TOKEN"
)

// 导入时的去重策略。
const (
	DedupeAppend      = "append"
	DedupeContentHash = "content_hash"
)

// 文档来源类型。
const (
	SourceFS    = "fs"
	SourceMinIO = "minio"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Retriever     RetrieverConfig     `mapstructure:"retriever"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Tika          TikaConfig          `mapstructure:"tika"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Database      DatabaseConfig      `mapstructure:"database"`
}

// ServerConfig 存储 HTTP 服务相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// RequestTimeoutSeconds 为 0 时不限制单个请求的处理时长。
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	BatchSize         int     `mapstructure:"batch_size"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储聊天模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Breaker        BreakerConfig       `mapstructure:"breaker"`
}

// LLMGenerationConfig 配置生成参数。
type LLMGenerationConfig struct {
	Temperature      float64 `mapstructure:"temperature"`
	TopP             float64 `mapstructure:"top_p"`
	FrequencyPenalty float64 `mapstructure:"frequency_penalty"`
	PresencePenalty  float64 `mapstructure:"presence_penalty"`
	MaxTokens        int     `mapstructure:"max_tokens"`
}

// BreakerConfig 配置聊天模型调用的熔断器。
type BreakerConfig struct {
	MaxConsecutiveFailures uint32 `mapstructure:"max_consecutive_failures"`
	OpenSeconds            int    `mapstructure:"open_seconds"`
}

// ElasticsearchConfig 存储向量索引（Elasticsearch）相关的配置。
// 索引名由 OrgID 与 Dataset 共同决定。
type ElasticsearchConfig struct {
	Addresses          string `mapstructure:"addresses"`
	APIKey             string `mapstructure:"api_key"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	OrgID              string `mapstructure:"org_id"`
	Dataset            string `mapstructure:"dataset"`
}

// RetrieverConfig 配置检索的 top-k。
type RetrieverConfig struct {
	TopK            int `mapstructure:"top_k"`
	CandidateFactor int `mapstructure:"candidate_factor"`
}

// IngestConfig 配置离线导入流程。
type IngestConfig struct {
	Source       string `mapstructure:"source"`
	RootDir      string `mapstructure:"root_dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	DedupePolicy string `mapstructure:"dedupe_policy"`
}

// TikaConfig 存储 Tika 服务器相关的配置，ServerURL 为空时不启用。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置，DSN 为空时不启用分块暂存。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置，Addr 为空时不启用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.timeout_seconds", 60)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.generation.temperature", 0.3)
	v.SetDefault("llm.generation.top_p", 0.85)
	v.SetDefault("llm.generation.frequency_penalty", 0.3)
	v.SetDefault("llm.generation.presence_penalty", 0.3)
	v.SetDefault("llm.breaker.max_consecutive_failures", 5)
	v.SetDefault("llm.breaker.open_seconds", 30)

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.org_id", "scheme-rag")
	v.SetDefault("elasticsearch.dataset", "india_schemes_rag")

	v.SetDefault("retriever.top_k", 4)
	v.SetDefault("retriever.candidate_factor", 10)

	v.SetDefault("ingest.source", SourceFS)
	v.SetDefault("ingest.root_dir", "data/states")
	v.SetDefault("ingest.chunk_size", 500)
	v.SetDefault("ingest.chunk_overlap", 50)
	v.SetDefault("ingest.dedupe_policy", DedupeAppend)

	v.SetDefault("kafka.topic", "scheme-ingest")
	v.SetDefault("kafka.group_id", "scheme-rag-ingest-worker")
}

// Load 读取 configPath 指定的 YAML 配置（文件不存在时使用默认值），
// 从环境变量注入凭证并校验。缺少凭证时返回 model.ErrConfiguration。
func Load(configPath string) (*Config, error) {
	// 存在 .env 时先加载；已存在的环境变量不会被覆盖
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("%w: 加载 .env 文件失败: %v", model.ErrConfiguration, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	_ = v.BindEnv("embedding.api_key", EnvOpenAIAPIKey)
	_ = v.BindEnv("llm.api_key", EnvOpenAIAPIKey)
	_ = v.BindEnv("elasticsearch.api_key", EnvVectorStoreToken)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("%w: 读取配置文件失败: %v", model.ErrConfiguration, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: 无法访问配置文件: %v", model.ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: 无法将配置解析到结构体中: %v", model.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查必需凭证与取值范围。
func (c *Config) Validate() error {
	var missing []string
	for _, name := range []string{EnvOpenAIAPIKey, EnvVectorStoreToken} {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s must be set in environment variables", model.ErrConfiguration, strings.Join(missing, " and "))
	}

	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) 必须小于 chunk_size (%d)", model.ErrConfiguration, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Ingest.DedupePolicy {
	case DedupeAppend, DedupeContentHash:
	default:
		return fmt.Errorf("%w: 未知的 dedupe_policy '%s'", model.ErrConfiguration, c.Ingest.DedupePolicy)
	}
	switch c.Ingest.Source {
	case SourceFS, SourceMinIO:
	default:
		return fmt.Errorf("%w: 未知的 ingest.source '%s'", model.ErrConfiguration, c.Ingest.Source)
	}
	if c.Elasticsearch.OrgID == "" || c.Elasticsearch.Dataset == "" {
		return fmt.Errorf("%w: elasticsearch.org_id 与 elasticsearch.dataset 不能为空", model.ErrConfiguration)
	}
	if c.Retriever.TopK <= 0 {
		return fmt.Errorf("%w: retriever.top_k 必须大于 0", model.ErrConfiguration)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions 必须大于 0", model.ErrConfiguration)
	}
	return nil
}
