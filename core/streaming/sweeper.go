package streaming

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"undersounds/core/apperr"
	"undersounds/logger"
)

// DefaultVariantMaxAgeDays 变体未被修改超过该天数即被清理
const DefaultVariantMaxAgeDays = 90

// Sweeper 按文件修改时间清理过期变体，不修改目录元数据
type Sweeper struct {
	layout Layout
	now    func() time.Time
}

// NewSweeper creates a Sweeper over layout.
func NewSweeper(layout Layout) *Sweeper {
	return &Sweeper{layout: layout, now: time.Now}
}

// SweepTrack 删除 mtime 早于阈值的 .m4a 文件，返回被删除的文件名；目录不存在时什么也不做
func (s *Sweeper) SweepTrack(ctx context.Context, trackID int64, days int) ([]string, error) {
	if days < 0 {
		return nil, apperr.InvalidRequest("daysThreshold must be >= 0, got %d", days)
	}
	dir := s.layout.VariantDir(trackID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.TransientIO(err, "read variant dir %s", dir)
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	var removed []string
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), variantExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // 并发删除
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
		logger.Info("删除过期变体",
			logger.Int64("trackId", trackID),
			logger.String("file", entry.Name()),
			logger.Time("modifiedAt", info.ModTime()))
	}
	if len(errs) > 0 {
		return removed, apperr.TransientIO(errors.Join(errs...), "sweep track %d", trackID)
	}
	return removed, nil
}

// SweepResult 批量清理的汇总
type SweepResult struct {
	TracksProcessed int                `json:"tracksProcessed"`
	FilesRemoved    int                `json:"filesRemoved"`
	Failed          int                `json:"failed"`
	Removed         map[int64][]string `json:"removed,omitempty"`
}

// SweepAll 逐个曲目清理，单个曲目失败只记录日志
func (s *Sweeper) SweepAll(ctx context.Context, trackIDs []int64, days int) (SweepResult, error) {
	res := SweepResult{Removed: make(map[int64][]string)}
	for _, id := range trackIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		removed, err := s.SweepTrack(ctx, id, days)
		if err != nil {
			res.Failed++
			logger.Error("清理变体失败", logger.Int64("trackId", id), logger.ErrorField(err))
		}
		res.TracksProcessed++
		if len(removed) > 0 {
			res.FilesRemoved += len(removed)
			res.Removed[id] = removed
		}
	}
	logger.Info("变体清理完成",
		logger.Int("tracksProcessed", res.TracksProcessed),
		logger.Int("filesRemoved", res.FilesRemoved),
		logger.Int("failed", res.Failed))
	return res, nil
}

// DeleteAll 删除曲目的全部变体目录
func (s *Sweeper) DeleteAll(trackID int64) error {
	dir := s.layout.VariantDir(trackID)
	if err := os.RemoveAll(dir); err != nil {
		return apperr.TransientIO(err, "remove variant dir %s", dir)
	}
	logger.Info("已删除曲目全部变体", logger.Int64("trackId", trackID))
	return nil
}
