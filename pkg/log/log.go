// Package log 封装了全局使用的 zap 结构化日志记录器。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 在 Init 之前使用 no-op logger，测试与命令行工具无需初始化即可安全调用。
var sugar = zap.NewNop().Sugar()

// Init 根据级别、编码格式和输出目录初始化 zap logger。
// format 为 "console" 时使用开发配置（彩色、可读），否则输出 JSON。
func Init(level, format, outputPath string) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Encoding = "console"
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}

	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		// 同时输出到文件和 stdout
		_ = os.MkdirAll(outputPath, os.ModePerm)
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(outputPath, "app.log"))
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

// Info 记录一条 info 级别的日志
func Info(msg string) {
	sugar.Info(msg)
}

// Infof 使用格式化字符串记录一条 info 级别的日志
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow 使用键值对记录一条 info 级别的结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

// Warnf 使用格式化字符串记录一条 warn 级别的日志
func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

// Warnw 使用键值对记录一条 warn 级别的结构化日志。
func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 信息
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatal 记录 fatal 日志并退出程序
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync 将缓冲区中的日志刷新到底层 Writer，程序退出前调用。
func Sync() {
	_ = sugar.Sync()
}
