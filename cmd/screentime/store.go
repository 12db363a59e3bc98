package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/storage/postgres"
	redisstore "github.com/goodtune/screentime/internal/storage/redis"
	"github.com/goodtune/screentime/internal/usage"
	"github.com/rs/zerolog"
)

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "redis":
		return redisstore.Open(cfg.Redis)
	case "postgres":
		return postgres.Open(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func usageOptions(cfg *config.Config) usage.Options {
	return usage.Options{
		HeartbeatInterval: config.ParseDuration(cfg.Enforcement.HeartbeatInterval, 30*time.Second),
		PauseGrace:        config.ParseDuration(cfg.Enforcement.PauseGrace, 300*time.Second),
		Defaults:          usage.DefaultsFromConfig(cfg.Defaults),
		ConfigCacheSize:   cfg.Enforcement.ConfigCacheSize,
		ConfigCacheTTL:    config.ParseDuration(cfg.Enforcement.ConfigCacheTTL, 30*time.Second),
	}
}

// openService loads configuration and builds the enforcement service for a
// one-shot command. Events are not published.
func openService(ctx context.Context) (*config.Config, storage.Store, *usage.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	svc := usage.New(store, catalog.New(cfg.Catalog), notify.Nop{}, nil, usageOptions(cfg), quietLogger())
	return cfg, store, svc, nil
}

func openPublisher(cfg config.NotifyConfig, logger zerolog.Logger) (notify.Publisher, error) {
	if !cfg.Enabled {
		return notify.Nop{}, nil
	}
	return notify.Connect(cfg.NATSURL, cfg.SubjectPrefix, logger)
}
