package streaming

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"undersounds/core/apperr"
	"undersounds/core/audio"
	"undersounds/core/keylock"
	"undersounds/logger"
	"undersounds/model"

	"github.com/gofrs/flock"
)

// Generator 为一个曲目并发生成全部档位的变体
type Generator struct {
	encoder audio.Encoder
	layout  Layout
	locks   *keylock.KeyedMutex
	tiers   []model.TierPolicy
}

// NewGenerator creates a Generator. locks may be shared with other per-track workflows.
func NewGenerator(encoder audio.Encoder, layout Layout, locks *keylock.KeyedMutex) *Generator {
	if locks == nil {
		locks = keylock.New()
	}
	return &Generator{
		encoder: encoder,
		layout:  layout,
		locks:   locks,
		tiers:   model.QualityTiers(),
	}
}

func generationKey(trackID int64) string {
	return fmt.Sprintf("variants:%d", trackID)
}

type tierResult struct {
	info model.VariantInfo
	err  error
}

// Generate 生成（或复用）所有档位。所有档位都结束后才返回；任一档位失败则返回合并后的错误，
// 已成功的档位仍会出现在返回的映射中并保留在磁盘上
func (g *Generator) Generate(ctx context.Context, trackID int64, sourcePath string) (model.StreamVariants, error) {
	if info, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.NotFound("source file for track %d not found: %s", trackID, sourcePath)
		}
		return nil, apperr.TransientIO(err, "stat source %s", sourcePath)
	} else if info.IsDir() {
		return nil, apperr.InvalidRequest("source %s is a directory", sourcePath)
	}

	unlock := g.locks.Lock(generationKey(trackID))
	defer unlock()

	dir := g.layout.VariantDir(trackID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperr.TransientIO(err, "create variant dir %s", dir)
	}

	// 跨进程互斥：CLI 批量生成与服务可能同时运行
	fileLock := flock.New(filepath.Join(dir, lockName))
	locked, err := fileLock.TryLockContext(ctx, 200*time.Millisecond)
	if !locked {
		if err == nil || ctx.Err() != nil {
			return nil, apperr.Conflict("track %d: generation lock held by another process", trackID)
		}
		return nil, apperr.TransientIO(err, "acquire generation lock for track %d", trackID)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.Warn("释放生成锁失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		}
	}()

	if prober, ok := g.encoder.(audio.Prober); ok {
		if err := checkSource(ctx, prober, trackID, sourcePath); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	results := make([]tierResult, len(g.tiers))
	var wg sync.WaitGroup
	for i, policy := range g.tiers {
		wg.Add(1)
		go func(i int, policy model.TierPolicy) {
			defer wg.Done()
			info, err := g.generateTier(ctx, trackID, sourcePath, policy)
			results[i] = tierResult{info: info, err: err}
		}(i, policy)
	}
	wg.Wait()

	variants := make(model.StreamVariants, len(g.tiers))
	var errs []error
	for i, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", g.tiers[i].Tier, r.err))
			continue
		}
		variants[r.info.Tier] = r.info
	}

	if len(errs) > 0 {
		logger.Error("变体生成部分失败",
			logger.Int64("trackId", trackID),
			logger.Int("succeeded", len(variants)),
			logger.Int("failed", len(errs)),
			logger.Duration("elapsed", time.Since(start)))
		return variants, errors.Join(errs...)
	}

	logger.Info("变体生成完成",
		logger.Int64("trackId", trackID),
		logger.Int("tiers", len(variants)),
		logger.Duration("elapsed", time.Since(start)))
	return variants, nil
}

// checkSource 启动转码前确认主文件是可解码的音频
func checkSource(ctx context.Context, prober audio.Prober, trackID int64, sourcePath string) error {
	codec, err := prober.AudioCodec(ctx, sourcePath)
	if err != nil {
		return apperr.InvalidRequest("track %d: source is not decodable audio: %v", trackID, err)
	}
	duration, err := prober.Duration(ctx, sourcePath)
	if err != nil || duration <= 0 {
		return apperr.InvalidRequest("track %d: source %s has no playable duration", trackID, filepath.Base(sourcePath))
	}
	logger.Debug("主文件探测完成",
		logger.Int64("trackId", trackID),
		logger.String("codec", codec),
		logger.Float64("duration", float64(duration)))
	return nil
}

func (g *Generator) generateTier(ctx context.Context, trackID int64, sourcePath string, policy model.TierPolicy) (model.VariantInfo, error) {
	target := g.layout.VariantPath(trackID, policy.Tier)

	if fi, err := os.Stat(target); err == nil && fi.Size() > 0 {
		logger.Debug("复用已有变体",
			logger.Int64("trackId", trackID),
			logger.String("tier", string(policy.Tier)))
		return variantInfoFromFile(trackID, policy, fi), nil
	}

	part := target + partExt
	_ = os.Remove(part)
	if err := g.encoder.Encode(ctx, sourcePath, part, policy); err != nil {
		_ = os.Remove(part)
		return model.VariantInfo{}, err
	}
	if err := os.Rename(part, target); err != nil {
		_ = os.Remove(part)
		return model.VariantInfo{}, apperr.TransientIO(err, "rename %s", part)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return model.VariantInfo{}, apperr.TransientIO(err, "stat %s", target)
	}
	return variantInfoFromFile(trackID, policy, fi), nil
}

func variantInfoFromFile(trackID int64, policy model.TierPolicy, fi os.FileInfo) model.VariantInfo {
	return model.VariantInfo{
		Tier:        policy.Tier,
		Bitrate:     policy.Bitrate,
		URL:         VariantURL(trackID, policy.Tier),
		FileSize:    fi.Size(),
		Description: policy.Description,
		CreatedAt:   fi.ModTime(),
	}
}

// ScanExisting 只读取磁盘上已存在的变体，不触发转码
func (g *Generator) ScanExisting(trackID int64) model.StreamVariants {
	variants := make(model.StreamVariants)
	for _, policy := range g.tiers {
		fi, err := os.Stat(g.layout.VariantPath(trackID, policy.Tier))
		if err != nil || fi.Size() == 0 {
			continue
		}
		variants[policy.Tier] = variantInfoFromFile(trackID, policy, fi)
	}
	return variants
}
