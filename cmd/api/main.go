package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/config"
	"github.com/trendy-design/llmchat-sub004/internal/infrastructure"
	"github.com/trendy-design/llmchat-sub004/internal/logger"
	"github.com/trendy-design/llmchat-sub004/internal/metrics"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	lg, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(cfg, lg)
	if err != nil {
		lg.Fatal("Bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	lg.Info("Credit ledger is running", zap.String("env", cfg.Env))
	if err := app.Run(ctx); err != nil {
		lg.Error("Server stopped with error", zap.Error(err))
		return
	}
	lg.Info("Credit ledger stopped")
}
