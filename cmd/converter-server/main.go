// Package main wires together the conversion service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/config"
	"github.com/JakeFAU/realtime-file-converter/internal/logging"
	"github.com/JakeFAU/realtime-file-converter/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg, logger)
	if err != nil {
		logger.Error("build application failed", zap.Error(err))
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("application stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
