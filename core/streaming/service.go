package streaming

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"undersounds/cache"
	"undersounds/core/apperr"
	"undersounds/core/keylock"
	"undersounds/logger"
	"undersounds/model"
	"undersounds/repository"

	"github.com/dustin/go-humanize"
)

// SourceOpener 打开主文件（必要时先从冷存储恢复），fn 执行期间主文件不会被归档
type SourceOpener interface {
	WithSource(ctx context.Context, trackID int64, fn func(path string) error) error
}

// Options 服务的可选依赖
type Options struct {
	BaseURL      string
	LazyGenerate bool
	Cache        cache.TrackInfoCache
	Events       Publisher
	Source       SourceOpener
}

// Service 组合变体生成、目录维护、清单和清理，供 HTTP 层和 CLI 使用
type Service struct {
	repo    repository.TrackRepository
	gen     *Generator
	sweeper *Sweeper
	layout  Layout
	locks   *keylock.KeyedMutex

	baseURL string
	lazy    bool
	cache   cache.TrackInfoCache
	events  Publisher
	source  SourceOpener

	inflight sync.Map // trackID -> struct{}，后台生成去重
	bg       sync.WaitGroup
}

// NewService wires the streaming service.
func NewService(repo repository.TrackRepository, gen *Generator, sweeper *Sweeper, opts Options) *Service {
	s := &Service{
		repo:    repo,
		gen:     gen,
		sweeper: sweeper,
		layout:  gen.layout,
		locks:   gen.locks,
		baseURL: opts.BaseURL,
		lazy:    opts.LazyGenerate,
		cache:   opts.Cache,
		events:  opts.Events,
		source:  opts.Source,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.events == nil {
		s.events = NopPublisher{}
	}
	return s
}

// Layout exposes the hot storage layout.
func (s *Service) Layout() Layout { return s.layout }

// Info 返回曲目信息；变体为空时先扫描磁盘补全，仍为空且主文件在热存储时后台触发生成。
// 补全过程的错误只记日志，不影响响应
func (s *Service) Info(ctx context.Context, trackID int64) (*model.TrackInfo, error) {
	if info, ok := s.cache.Get(ctx, trackID); ok {
		return info, nil
	}

	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return nil, err
	}

	variants := track.StreamVariants.Sanitized()
	if len(variants) == 0 {
		variants = s.populateFromDisk(ctx, trackID)
		if len(variants) == 0 {
			s.maybeScheduleGeneration(track)
		}
	}

	info := &model.TrackInfo{
		ID:             track.ID,
		Title:          track.Title,
		Duration:       track.Duration,
		OriginalURL:    ResolveAssetURL(s.baseURL, track.URL),
		IsArchived:     track.IsArchived,
		StreamVariants: s.resolveVariantURLs(variants),
	}
	if len(variants) > 0 {
		if err := s.cache.Set(ctx, info); err != nil {
			logger.Warn("写入曲目缓存失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		}
	}
	return info, nil
}

func (s *Service) resolveVariantURLs(variants model.StreamVariants) model.StreamVariants {
	out := make(model.StreamVariants, len(variants))
	for tier, v := range variants {
		v.URL = ResolveAssetURL(s.baseURL, v.URL)
		out[tier] = v
	}
	return out
}

func (s *Service) populateFromDisk(ctx context.Context, trackID int64) model.StreamVariants {
	variants := s.gen.ScanExisting(trackID)
	if len(variants) == 0 {
		return variants
	}
	if err := s.repo.UpdateStreamVariants(ctx, trackID, variants); err != nil {
		logger.Warn("持久化扫描到的变体失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	} else {
		logger.Info("从磁盘补全变体目录",
			logger.Int64("trackId", trackID),
			logger.Int("tiers", len(variants)))
	}
	return variants
}

func (s *Service) maybeScheduleGeneration(track *model.Track) {
	if !s.lazy {
		return
	}
	src := s.layout.SourcePath(track)
	if src == "" {
		return
	}
	if _, err := os.Stat(src); err != nil {
		// 冷存储中的曲目不在 info 请求里触发恢复
		return
	}
	if _, loaded := s.inflight.LoadOrStore(track.ID, struct{}{}); loaded {
		return
	}

	s.bg.Add(1)
	go func(trackID int64) {
		defer s.bg.Done()
		defer s.inflight.Delete(trackID)
		logger.Info("后台生成变体", logger.Int64("trackId", trackID))
		if _, err := s.Generate(context.Background(), trackID); err != nil {
			logger.Error("后台生成变体失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		}
	}(track.ID)
}

// Wait blocks until background generations finish.
func (s *Service) Wait() { s.bg.Wait() }

// Generate 立即生成全部档位并持久化；部分失败时已成功的档位也会写入目录
func (s *Service) Generate(ctx context.Context, trackID int64) (model.StreamVariants, error) {
	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	var (
		variants model.StreamVariants
		genErr   error
	)
	err = s.withSource(ctx, track, func(src string) error {
		variants, genErr = s.gen.Generate(ctx, trackID, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(variants) > 0 {
		if err := s.persistVariants(ctx, trackID, variants); err != nil {
			return variants, errors.Join(genErr, err)
		}
		s.events.Publish(Event{TrackID: trackID, Type: EventVariantsGenerated})
	}
	return variants, genErr
}

func (s *Service) withSource(ctx context.Context, track *model.Track, fn func(path string) error) error {
	if s.source != nil {
		return s.source.WithSource(ctx, track.ID, fn)
	}
	src := s.layout.SourcePath(track)
	if src == "" {
		return apperr.NotFound("track %d has no source asset", track.ID)
	}
	return fn(src)
}

// persistVariants 与已有目录合并后写回，并使缓存失效
func (s *Service) persistVariants(ctx context.Context, trackID int64, produced model.StreamVariants) error {
	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return err
	}
	merged := track.StreamVariants.Sanitized()
	for tier, v := range produced {
		if old, ok := merged[tier]; ok && old.LastAccessedAt != nil {
			v.LastAccessedAt = old.LastAccessedAt
		}
		merged[tier] = v
	}
	if err := s.repo.UpdateStreamVariants(ctx, trackID, merged); err != nil {
		return err
	}
	s.invalidate(ctx, trackID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, trackID int64) {
	if err := s.cache.Invalidate(ctx, trackID); err != nil {
		logger.Warn("曲目缓存失效失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}
}

// GenerateSummary 批量生成的汇总
type GenerateSummary struct {
	Generated int     `json:"generated"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failedIds,omitempty"`
}

// GenerateAll 为所有曲目生成变体，已有变体的曲目除非 force 否则跳过
func (s *Service) GenerateAll(ctx context.Context, force bool) (GenerateSummary, error) {
	var sum GenerateSummary
	ids, err := s.repo.ListTrackIDs(ctx)
	if err != nil {
		return sum, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !force {
			track, err := s.repo.GetTrackByID(ctx, id)
			if err == nil && len(track.StreamVariants.Sanitized()) == len(model.QualityTiers()) {
				sum.Skipped++
				continue
			}
		}
		if _, err := s.Generate(ctx, id); err != nil {
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, id)
			logger.Error("生成变体失败", logger.Int64("trackId", id), logger.ErrorField(err))
			continue
		}
		sum.Generated++
	}
	logger.Info("批量生成完成",
		logger.Int("generated", sum.Generated),
		logger.Int("skipped", sum.Skipped),
		logger.Int("failed", sum.Failed))
	return sum, nil
}

// AvailableVariants 目录中登记且磁盘上存在的档位，按码率升序
func (s *Service) AvailableVariants(ctx context.Context, trackID int64) ([]model.VariantInfo, error) {
	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	variants := track.StreamVariants.Sanitized()
	if len(variants) == 0 {
		variants = s.populateFromDisk(ctx, trackID)
	}

	ordered := variants.Ordered()
	out := ordered[:0]
	for _, v := range ordered {
		if fi, err := os.Stat(s.layout.VariantPath(trackID, v.Tier)); err == nil && fi.Size() > 0 {
			out = append(out, v)
		}
	}
	return out, nil
}

// Manifest 渲染曲目的主播放清单
func (s *Service) Manifest(ctx context.Context, trackID int64) (string, error) {
	variants, err := s.AvailableVariants(ctx, trackID)
	if err != nil {
		return "", err
	}
	return BuildManifest(s.baseURL, variants), nil
}

// VariantFile 返回可直接发送的变体文件路径
func (s *Service) VariantFile(ctx context.Context, trackID int64, tier model.QualityTier) (string, error) {
	policy, ok := model.PolicyFor(tier)
	if !ok {
		return "", apperr.InvalidRequest("unsupported quality tier %q", tier)
	}
	p := s.layout.VariantPath(trackID, tier)
	fi, err := os.Stat(p)
	if err != nil || fi.Size() == 0 {
		return "", apperr.NotFound("tier unavailable: %s for track %d", tier, trackID)
	}
	s.recordVariantAccess(ctx, trackID, policy, fi)
	return p, nil
}

const accessResolution = time.Hour

// recordVariantAccess 尽力更新档位的最后访问时间；生成进行中或一小时内已更新则跳过
func (s *Service) recordVariantAccess(ctx context.Context, trackID int64, policy model.TierPolicy, fi os.FileInfo) {
	unlock, ok := s.locks.TryLock(generationKey(trackID))
	if !ok {
		return
	}
	defer unlock()

	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return
	}
	variants := track.StreamVariants.Sanitized()
	now := time.Now()
	v, ok := variants[policy.Tier]
	if !ok {
		v = variantInfoFromFile(trackID, policy, fi)
	} else if v.LastAccessedAt != nil && now.Sub(*v.LastAccessedAt) < accessResolution {
		return
	}
	v.LastAccessedAt = &now
	variants[policy.Tier] = v
	if err := s.repo.UpdateStreamVariants(ctx, trackID, variants); err != nil {
		logger.Debug("更新变体访问时间失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		return
	}
	s.invalidate(ctx, trackID)
}

// Cleanup 清理单个曲目的过期变体，目录元数据保持不变
func (s *Service) Cleanup(ctx context.Context, trackID int64, days int) ([]string, error) {
	removed, err := s.sweeper.SweepTrack(ctx, trackID, days)
	if len(removed) > 0 {
		s.invalidate(ctx, trackID)
		s.events.Publish(Event{TrackID: trackID, Type: EventVariantsSwept, Files: removed})
	}
	return removed, err
}

// SweepAll 清理所有曲目的过期变体
func (s *Service) SweepAll(ctx context.Context, days int) (SweepResult, error) {
	ids, err := s.repo.ListTrackIDs(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	res, err := s.sweeper.SweepAll(ctx, ids, days)
	for id, files := range res.Removed {
		s.invalidate(ctx, id)
		s.events.Publish(Event{TrackID: id, Type: EventVariantsSwept, Files: files})
	}
	return res, err
}

// DeleteAll 删除曲目的全部变体文件
func (s *Service) DeleteAll(ctx context.Context, trackID int64) error {
	unlock := s.locks.Lock(generationKey(trackID))
	defer unlock()
	if err := s.sweeper.DeleteAll(trackID); err != nil {
		return err
	}
	s.invalidate(ctx, trackID)
	s.events.Publish(Event{TrackID: trackID, Type: EventVariantsSwept})
	return nil
}

// VariantStat 单个档位的磁盘统计
type VariantStat struct {
	Tier           model.QualityTier `json:"tier"`
	Bitrate        string            `json:"bitrate"`
	URL            string            `json:"url"`
	Size           int64             `json:"size"`
	SizeHuman      string            `json:"sizeHuman"`
	CreatedAt      time.Time         `json:"createdAt"`
	LastAccessedAt *time.Time        `json:"lastAccessedAt,omitempty"`
	ModifiedAt     time.Time         `json:"modifiedAt"`
}

// TrackStats 曲目所有变体的统计
type TrackStats struct {
	TrackID        int64         `json:"trackId"`
	Variants       []VariantStat `json:"variants"`
	TotalSize      int64         `json:"totalSize"`
	TotalSizeHuman string        `json:"totalSizeHuman"`
}

// Stats 汇总磁盘上存在的档位，缺失的档位直接省略
func (s *Service) Stats(ctx context.Context, trackID int64) (*TrackStats, error) {
	track, err := s.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	meta := track.StreamVariants.Sanitized()

	stats := &TrackStats{TrackID: trackID, Variants: []VariantStat{}}
	for _, policy := range model.QualityTiers() {
		fi, err := os.Stat(s.layout.VariantPath(trackID, policy.Tier))
		if err != nil {
			continue
		}
		st := VariantStat{
			Tier:       policy.Tier,
			Bitrate:    policy.Bitrate,
			URL:        ResolveAssetURL(s.baseURL, VariantURL(trackID, policy.Tier)),
			Size:       fi.Size(),
			SizeHuman:  humanize.Bytes(uint64(fi.Size())),
			CreatedAt:  fi.ModTime(),
			ModifiedAt: fi.ModTime(),
		}
		if m, ok := meta[policy.Tier]; ok {
			if !m.CreatedAt.IsZero() {
				st.CreatedAt = m.CreatedAt
			}
			st.LastAccessedAt = m.LastAccessedAt
		}
		stats.Variants = append(stats.Variants, st)
		stats.TotalSize += fi.Size()
	}
	stats.TotalSizeHuman = humanize.Bytes(uint64(stats.TotalSize))
	return stats, nil
}
