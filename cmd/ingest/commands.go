package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/pkg/kafka"
	"scheme-rag-go/pkg/log"
	"scheme-rag-go/pkg/tasks"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ingest",
	Short:        "Ingest regional scheme documents into the vector index",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load, chunk, embed and index every region once",
	RunE:  runIngest,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish one Kafka task per region",
	RunE:  runEnqueue,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume region tasks from Kafka until interrupted",
	RunE:  runWorker,
}

func init() {
	defaultPath := os.Getenv("SCHEME_RAG_CONFIG")
	if defaultPath == "" {
		defaultPath = "./configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "path to the YAML config file")
	rootCmd.AddCommand(runCmd, enqueueCmd, workerCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildIngestDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	report, err := deps.processor.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("Run %s: %d documents (%d skipped), %d chunks, %d written, %d already indexed in %s\n",
		report.RunID, report.Documents, report.Skipped, report.Chunks, report.Written, report.AlreadySeen, deps.indexName)
	return nil
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	l, err := buildLoader(ctx, cfg)
	if err != nil {
		return err
	}
	regions, err := l.Regions(ctx)
	if err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	runID := uuid.NewString()
	for _, region := range regions {
		task := tasks.RegionIngestTask{RunID: runID, Region: region, EnqueuedAt: time.Now()}
		if err := producer.ProduceRegionTask(ctx, task); err != nil {
			return err
		}
		log.Infof("[Enqueue] 已投递地区任务 '%s'", region)
	}
	cmd.Printf("Run %s: enqueued %d region tasks to %s\n", runID, len(regions), cfg.Kafka.Topic)
	return nil
}

func runWorker(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildIngestDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	var counter kafka.AttemptCounter = kafka.NewMemoryAttemptCounter()
	if deps.redis != nil {
		counter = kafka.NewRedisAttemptCounter(deps.redis)
	} else {
		log.Warnf("[Worker] 未配置 Redis，失败次数仅在本进程内计数")
	}

	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	return kafka.StartConsumer(ctx, cfg.Kafka, deps.processor, counter, producer)
}
