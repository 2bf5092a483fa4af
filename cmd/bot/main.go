package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gemini-chatter/internal/app"
	"gemini-chatter/internal/auth"
	"gemini-chatter/internal/commands"
	"gemini-chatter/internal/config"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/scheduler"
	"gemini-chatter/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logger.Warnf(".env file not found: %v", err)
	}

	cfg := config.New()
	logger.Configure(logger.ParseLevel(cfg.LogLevel), cfg.DevMode)

	if cfg.TelegramBotToken == "" {
		logger.Fatalf("TELEGRAM_BOT_TOKEN is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.PerSessionSettings)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	var allowRepo auth.Repository
	if cfg.AllowlistFilePath != "" {
		repo, err := auth.NewFileRepository(cfg.AllowlistFilePath)
		if err != nil {
			logger.Warnf("failed to init allowlist repo: %v", err)
		} else {
			allowRepo = repo
		}
	}
	authSvc, err := auth.NewWithRepo(allowRepo, cfg.AllowedUsers)
	if err != nil {
		logger.Fatalf("failed to init auth: %v", err)
	}
	if authSvc.Open() {
		logger.Warnf("allowlist is empty, every Telegram user may chat with the bot")
	}

	sched := scheduler.New()
	if cfg.ExportDir != "" {
		exporter := &scheduler.Exporter{Sessions: a.Sessions, Dir: cfg.ExportDir, Keep: cfg.ExportKeep}
		sched.SetJob(exporter.Run)
		if err := sched.Start(cfg.ExportCron); err != nil {
			logger.Fatalf("invalid EXPORT_CRON %q: %v", cfg.ExportCron, err)
		}
		defer func() {
			sched.Stop()
			// One last export so nothing recorded since the last run is lost.
			if err := exporter.Run(context.Background()); err != nil {
				logger.Warnf("final export: %v", err)
			}
		}()
	}

	bot, err := telegram.New(cfg.TelegramBotToken, authSvc, a.Sessions, commands.NewExecutor(a.Changelog), cfg.Streaming)
	if err != nil {
		logger.Fatalf("failed to create bot: %v", err)
	}
	bot.Start(ctx)
	logger.Info("bot stopped")
}
