package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"undersounds/core/apperr"
	"undersounds/model"

	"gorm.io/gorm"
)

// ArchiveState 归档/恢复时需要一次性写入的字段
type ArchiveState struct {
	URL             string
	IsArchived      bool
	ClearBinaryData bool
}

// TrackRepository 曲目元数据的窄接口，目录服务拥有完整的数据模型
type TrackRepository interface {
	GetTrackByID(ctx context.Context, id int64) (*model.Track, error)
	UpdateStreamVariants(ctx context.Context, id int64, variants model.StreamVariants) error
	UpdateArchiveState(ctx context.Context, id int64, state ArchiveState) error
	TouchLastAccessed(ctx context.Context, id int64, at time.Time) error
	ListTrackIDs(ctx context.Context) ([]int64, error)
	// FindBySourceName 按主文件名查找曲目，本地和远端 URL 都会匹配
	FindBySourceName(ctx context.Context, fileName string) (*model.Track, error)
	// ListInactive 返回未归档且最后访问早于 before 的曲目，从未访问过的按创建时间计算
	ListInactive(ctx context.Context, before time.Time) ([]*model.Track, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// GetTrackByID 根据ID获取曲目，不存在时返回 NotFound
func (r *gormTrackRepository) GetTrackByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("track %d not found", id)
		}
		return nil, fmt.Errorf("failed to get track by ID %d: %w", id, err)
	}
	return &track, nil
}

// UpdateStreamVariants 覆盖写入变体映射
func (r *gormTrackRepository) UpdateStreamVariants(ctx context.Context, id int64, variants model.StreamVariants) error {
	result := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Update("stream_variants", variants.Sanitized())
	return checkAffected(result, id, "UpdateStreamVariants")
}

// UpdateArchiveState 原子地更新 url/is_archived，归档时同时清空 binary_data
func (r *gormTrackRepository) UpdateArchiveState(ctx context.Context, id int64, state ArchiveState) error {
	updates := map[string]interface{}{
		"url":         state.URL,
		"is_archived": state.IsArchived,
	}
	if state.ClearBinaryData {
		updates["binary_data"] = nil
	}
	result := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Updates(updates)
	return checkAffected(result, id, "UpdateArchiveState")
}

// TouchLastAccessed 更新最后访问时间，不修改 updated_at
func (r *gormTrackRepository) TouchLastAccessed(ctx context.Context, id int64, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		UpdateColumn("last_accessed", at)
	return checkAffected(result, id, "TouchLastAccessed")
}

// ListTrackIDs 返回全部曲目ID
func (r *gormTrackRepository) ListTrackIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.Track{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list track ids: %w", err)
	}
	return ids, nil
}

func (r *gormTrackRepository) FindBySourceName(ctx context.Context, fileName string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Omit("binary_data").
		Where("url LIKE ?", "%/"+likeEscaper.Replace(fileName)).
		Order("id ASC").
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("no track for file %s", fileName)
		}
		return nil, fmt.Errorf("failed to find track by file %s: %w", fileName, err)
	}
	return &track, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *gormTrackRepository) ListInactive(ctx context.Context, before time.Time) ([]*model.Track, error) {
	var tracks []*model.Track
	err := r.db.WithContext(ctx).
		Omit("binary_data").
		Where("is_archived = ?", false).
		Where("(last_accessed IS NOT NULL AND last_accessed < ?) OR (last_accessed IS NULL AND created_at < ?)", before, before).
		Order("id ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list inactive tracks: %w", err)
	}
	return tracks, nil
}

func checkAffected(result *gorm.DB, id int64, op string) error {
	if result.Error != nil {
		return fmt.Errorf("failed to execute %s for track ID %d: %w", op, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("track %d not found", id)
	}
	return nil
}
