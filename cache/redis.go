package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"undersounds/logger"
	"undersounds/model"

	"github.com/go-redis/redis/v8"
)

const infoKeyPrefix = "streaming:info:"

// TrackInfoCache 缓存 info 接口的响应，变体变化时失效
type TrackInfoCache interface {
	Get(ctx context.Context, trackID int64) (*model.TrackInfo, bool)
	Set(ctx context.Context, info *model.TrackInfo) error
	Invalidate(ctx context.Context, trackID int64) error
}

// InfoKey 返回曲目 info 的缓存键
func InfoKey(trackID int64) string {
	return infoKeyPrefix + strconv.FormatInt(trackID, 10)
}

// RedisTrackInfoCache implements TrackInfoCache on go-redis.
type RedisTrackInfoCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTrackInfoCache creates the cache. ttl <= 0 means entries never expire.
func NewRedisTrackInfoCache(client *redis.Client, ttl time.Duration) *RedisTrackInfoCache {
	return &RedisTrackInfoCache{client: client, ttl: ttl}
}

// Get 缓存读取失败按未命中处理，让调用方回源
func (c *RedisTrackInfoCache) Get(ctx context.Context, trackID int64) (*model.TrackInfo, bool) {
	key := InfoKey(trackID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("获取曲目缓存失败", logger.String("key", key), logger.ErrorField(err))
		}
		return nil, false
	}

	info, err := decodeInfo(data)
	if err != nil {
		logger.Warn("曲目缓存数据损坏，已忽略", logger.String("key", key), logger.ErrorField(err))
		return nil, false
	}
	logger.Debug("曲目缓存命中", logger.String("key", key), logger.Int("dataSize", len(data)))
	return info, true
}

func (c *RedisTrackInfoCache) Set(ctx context.Context, info *model.TrackInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := InfoKey(info.ID)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Error("设置曲目缓存失败", logger.String("key", key), logger.ErrorField(err))
		return err
	}
	return nil
}

func (c *RedisTrackInfoCache) Invalidate(ctx context.Context, trackID int64) error {
	key := InfoKey(trackID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Error("删除曲目缓存失败", logger.String("key", key), logger.ErrorField(err))
		return err
	}
	logger.Debug("曲目缓存已失效", logger.String("key", key))
	return nil
}

func decodeInfo(data []byte) (*model.TrackInfo, error) {
	var info model.TrackInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	info.StreamVariants = info.StreamVariants.Sanitized()
	return &info, nil
}

// Noop 不做任何缓存，Redis 未配置时使用
type Noop struct{}

func (Noop) Get(context.Context, int64) (*model.TrackInfo, bool) { return nil, false }
func (Noop) Set(context.Context, *model.TrackInfo) error         { return nil }
func (Noop) Invalidate(context.Context, int64) error             { return nil }

var (
	_ TrackInfoCache = (*RedisTrackInfoCache)(nil)
	_ TrackInfoCache = Noop{}
)
