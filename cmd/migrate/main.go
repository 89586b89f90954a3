package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/config"
	"github.com/trendy-design/llmchat-sub004/internal/logger"
	"github.com/trendy-design/llmchat-sub004/internal/repository"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: migrate <%s>\n", strings.Join(repository.MigrationCommands, "|"))
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if !cfg.AuditEnabled() {
		zl.Fatal("CREDITS_POSTGRES_HOST is not set, charge audit is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := repository.MigrateCharges(ctx, cfg.DSN(), command, zl.Named("migrate")); err != nil {
		zl.Fatal("Migration failed", zap.String("command", command), zap.Error(err))
	}
	zl.Info("Migration finished", zap.String("command", command))
}
