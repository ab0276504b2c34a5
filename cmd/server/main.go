// Package main 是推荐服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"scheme-rag-go/internal/config"
	"scheme-rag-go/internal/handler"
	"scheme-rag-go/internal/service"
	"scheme-rag-go/pkg/log"
)

// EnvConfigPath 覆盖默认的配置文件路径。
const EnvConfigPath = "SCHEME_RAG_CONFIG"

func main() {
	// 1. 加载并校验配置，缺少凭证时在监听之前退出
	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 构建共享依赖（向量索引、embedding、聊天模型、问答链）
	app, err := service.NewAppContext(cfg)
	if err != nil {
		log.Fatal("服务依赖初始化失败", err)
	}
	log.Infof("检索索引: %s", app.IndexName())

	// 4. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(app.Recommender(), time.Duration(cfg.Server.RequestTimeoutSeconds)*time.Second)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
