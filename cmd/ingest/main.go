// Package main 是离线导入工具的入口点：一次性导入、按地区投递 Kafka 任务、以及消费任务的 worker。
package main

import (
	"os"

	"scheme-rag-go/pkg/log"
)

func main() {
	defer log.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
