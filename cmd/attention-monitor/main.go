package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"attention-monitor/internal/config"
	"attention-monitor/internal/service"
	"attention-monitor/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "attention-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	attentionService, err := service.NewAttentionService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create attention service", zap.Error(err))
	}
	defer attentionService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := attentionService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 6. 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-serviceErrChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	log.Info("Attention monitor stopped")
}
