package cmd

import (
	"context"
	"fmt"
	"os"

	"undersounds/cache"
	"undersounds/config"
	"undersounds/core/audio"
	"undersounds/core/keylock"
	"undersounds/core/lifecycle"
	"undersounds/core/streaming"
	"undersounds/db"
	"undersounds/logger"
	"undersounds/repository"
	"undersounds/storage"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// app 命令共享的组件
type app struct {
	cfg       *config.Config
	gdb       *gorm.DB
	redis     *redis.Client
	cache     cache.TrackInfoCache
	repo      repository.TrackRepository
	store     *storage.MinioStore
	locks     *keylock.KeyedMutex
	events    *streaming.EventHub
	layout    streaming.Layout
	streaming *streaming.Service
	lifecycle *lifecycle.Manager
}

// newApp 连接 MySQL、MinIO，Redis 可选；withCache 为 false 时不连接 Redis
func newApp(ctx context.Context, cfg *config.Config, withCache bool) (*app, error) {
	a := &app{cfg: cfg, cache: cache.Noop{}}

	layout := streaming.Layout{MusicDir: cfg.MusicDir, VariantsDir: cfg.VariantsDir}
	for _, dir := range []string{layout.MusicDir, layout.VariantsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	a.layout = layout

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	if err := db.AutoMigrate(gdb); err != nil {
		a.Close()
		return nil, err
	}
	a.repo = repository.NewGormTrackRepository(gdb)

	if withCache {
		client, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			// 缓存只是加速，Redis 不可用时降级
			logger.Warn("Redis 不可用，info 缓存已禁用", logger.ErrorField(err))
		} else {
			a.redis = client
			a.cache = cache.NewRedisTrackInfoCache(client, cfg.InfoCacheTTL)
		}
	}

	store, err := storage.NewMinioStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.locks = keylock.New()
	a.events = streaming.NewEventHub(32)
	a.lifecycle = lifecycle.NewManager(a.repo, store, layout, a.locks, a.events, a.cache, cfg.ArchiveFolder)

	encoder := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.EncodeTimeout)
	a.streaming = streaming.NewService(a.repo,
		streaming.NewGenerator(encoder, layout, a.locks),
		streaming.NewSweeper(layout),
		streaming.Options{
			BaseURL:      cfg.PublicBaseURL,
			LazyGenerate: cfg.LazyGenerate,
			Cache:        a.cache,
			Events:       a.events,
			Source:       a.lifecycle,
		})
	return a, nil
}

// Close 释放连接，可重复调用
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn("关闭 Redis 连接失败", logger.ErrorField(err))
		}
		a.redis = nil
	}
	if a.gdb != nil {
		if err := db.CloseGormDB(a.gdb); err != nil {
			logger.Warn("关闭数据库连接失败", logger.ErrorField(err))
		}
		a.gdb = nil
	}
}
