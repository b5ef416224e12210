package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/LENAX/agent-hub/internal/app"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/agenthub.yaml", "配置文件路径")
	host := flag.String("host", "", "监听地址，为空时使用配置文件")
	port := flag.Int("port", 0, "监听端口，为0时使用配置文件")
	flag.Parse()

	log.Printf("Agent Hub Server v%s (%s, %s)", Version, GitCommit, BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		ConfigPath: *configPath,
		Host:       *host,
		Port:       *port,
		Version:    Version,
	}); err != nil {
		log.Fatalf("服务异常退出: %v", err)
	}
}
