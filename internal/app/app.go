// Package app wires configuration into the pieces every binary shares: the
// model client, the interaction recorders and the session manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"gemini-chatter/internal/changelog"
	"gemini-chatter/internal/chat"
	"gemini-chatter/internal/config"
	"gemini-chatter/internal/export"
	"gemini-chatter/internal/llm"
	"gemini-chatter/internal/logger"
	"gemini-chatter/internal/settings"
	"gemini-chatter/internal/storage"
)

// SettingsScope says where a session's settings are persisted.
type SettingsScope int

const (
	// SharedSettings stores every session's settings in SETTINGS_FILE_PATH.
	SharedSettings SettingsScope = iota
	// PerSessionSettings stores them next to it, one file per session key.
	PerSessionSettings
)

type App struct {
	Config    *config.Config
	Client    llm.Client
	Recorder  storage.Recorder
	Changelog *changelog.Loader
	Sessions  *chat.Manager

	redis *redis.Client
	scope SettingsScope
}

// New builds the shared wiring. Missing credentials are not fatal: sessions
// are created without a client and report a configuration error when used.
func New(ctx context.Context, cfg *config.Config, scope SettingsScope) (*App, error) {
	a := &App{
		Config:    cfg,
		Changelog: changelog.NewLoader(cfg.ChangelogPath),
		scope:     scope,
	}

	client, err := llm.NewFactory(cfg).CreateClient(ctx, string(cfg.LLMProvider))
	switch {
	case errors.Is(err, llm.ErrMissingCredentials):
		logger.Warnf("no credentials for provider %s: %v", cfg.LLMProvider, err)
	case err != nil:
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	default:
		a.Client = client
	}

	var fileRec, redisRec storage.Recorder
	if cfg.LogFilePath != "" {
		fr, err := storage.NewFileRecorder(cfg.LogFilePath)
		if err != nil {
			logger.Warnf("failed to init file recorder: %v", err)
		} else {
			fileRec = fr
		}
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warnf("redis at %s unavailable, interactions will not be mirrored there: %v", cfg.RedisAddr, err)
			_ = rdb.Close()
		} else {
			a.redis = rdb
			redisRec = storage.NewRedisRecorder(rdb, cfg.RedisLogKey)
		}
	}
	a.Recorder = storage.Multi(fileRec, redisRec)

	defaults := cfg.Defaults()
	a.Sessions = chat.NewManager(func(key string) (*chat.Service, error) {
		opts := chat.Options{
			ID:       key,
			Defaults: defaults,
			Client:   a.Client,
			Recorder: a.Recorder,
		}
		if repo, err := settings.NewFileRepository(a.settingsPath(key)); err != nil {
			logger.Warnf("settings for %s will not be saved: %v", key, err)
		} else {
			opts.Repo = repo
		}
		return chat.NewService(opts)
	})
	return a, nil
}

func (a *App) settingsPath(key string) string {
	if a.scope == SharedSettings {
		return a.Config.SettingsFilePath
	}
	return filepath.Join(filepath.Dir(a.Config.SettingsFilePath), "sessions", export.SafeName(key)+".json")
}

func (a *App) Close() error {
	var errs []error
	if a.Client != nil {
		errs = append(errs, a.Client.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
