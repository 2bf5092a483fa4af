package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gemini-chatter/internal/app"
	"gemini-chatter/internal/config"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/mcpserver"
)

func main() {
	// stdout carries the protocol, so logs go to stderr.
	logger.ConfigureWriter(logger.LevelInfo, false, os.Stderr)
	if err := godotenv.Load(".env"); err != nil {
		logger.Warnf(".env file not found: %v", err)
	}

	cfg := config.New()
	logger.ConfigureWriter(logger.ParseLevel(cfg.LogLevel), cfg.DevMode, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.PerSessionSettings)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer a.Close()

	logger.Infof("starting session MCP server on stdin/stdout (provider %s)", cfg.LLMProvider)
	if err := mcpserver.New(a.Sessions).Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("MCP server failed: %v", err)
	}
}
