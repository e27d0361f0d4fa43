package lifecycle

import (
	"context"
	"sync"
	"time"

	"undersounds/core/streaming"
	"undersounds/logger"
)

// VariantSweeper 批量清理过期变体
type VariantSweeper interface {
	SweepAll(ctx context.Context, days int) (streaming.SweepResult, error)
}

// InactiveArchiver 批量归档不活跃曲目
type InactiveArchiver interface {
	ArchiveInactive(ctx context.Context, olderThan time.Duration) (ArchiveSummary, error)
}

// SchedulerConfig 定时任务参数，间隔 <= 0 的任务不启动
type SchedulerConfig struct {
	SweepInterval     time.Duration
	VariantMaxAgeDays int
	ArchiveInterval   time.Duration
	ArchiveAfter      time.Duration
}

// Scheduler 周期性执行变体清理和不活跃归档
type Scheduler struct {
	sweeper  VariantSweeper
	archiver InactiveArchiver
	cfg      SchedulerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a scheduler. Either job dependency may be nil.
func NewScheduler(sweeper VariantSweeper, archiver InactiveArchiver, cfg SchedulerConfig) *Scheduler {
	if cfg.VariantMaxAgeDays <= 0 {
		cfg.VariantMaxAgeDays = streaming.DefaultVariantMaxAgeDays
	}
	return &Scheduler{sweeper: sweeper, archiver: archiver, cfg: cfg}
}

// Start 启动定时任务，重复调用无效
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		logger.Warn("生命周期调度器已在运行")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if s.sweeper != nil && s.cfg.SweepInterval > 0 {
		s.run(ctx, "variant-sweep", s.cfg.SweepInterval, s.sweepOnce)
	}
	if s.archiver != nil && s.cfg.ArchiveInterval > 0 && s.cfg.ArchiveAfter > 0 {
		s.run(ctx, "archive-inactive", s.cfg.ArchiveInterval, s.archiveOnce)
	}
	logger.Info("生命周期调度器启动",
		logger.Duration("sweepInterval", s.cfg.SweepInterval),
		logger.Int("variantMaxAgeDays", s.cfg.VariantMaxAgeDays),
		logger.Duration("archiveInterval", s.cfg.ArchiveInterval),
		logger.Duration("archiveAfter", s.cfg.ArchiveAfter))
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, job func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Debug("定时任务退出", logger.String("job", name))
				return
			case <-ticker.C:
				start := time.Now()
				job(ctx)
				logger.Debug("定时任务完成",
					logger.String("job", name),
					logger.Duration("elapsed", time.Since(start)))
			}
		}
	}()
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	res, err := s.sweeper.SweepAll(ctx, s.cfg.VariantMaxAgeDays)
	if err != nil {
		logger.Error("定时清理变体失败", logger.ErrorField(err))
		return
	}
	logger.Info("定时清理变体",
		logger.Int("tracksProcessed", res.TracksProcessed),
		logger.Int("filesRemoved", res.FilesRemoved))
}

func (s *Scheduler) archiveOnce(ctx context.Context) {
	sum, err := s.archiver.ArchiveInactive(ctx, s.cfg.ArchiveAfter)
	if err != nil {
		logger.Error("定时归档失败", logger.ErrorField(err))
		return
	}
	logger.Info("定时归档不活跃曲目",
		logger.Int("archived", sum.Archived),
		logger.Int("failed", sum.Failed))
}

// Stop 停止所有任务并等待正在执行的任务结束；未运行时无效
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("生命周期调度器已停止")
}
