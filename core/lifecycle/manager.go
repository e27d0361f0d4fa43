// Package lifecycle 管理主文件在热存储（本地磁盘）与冷存储（MinIO）之间的迁移。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"undersounds/cache"
	"undersounds/core/apperr"
	"undersounds/core/keylock"
	"undersounds/core/streaming"
	"undersounds/logger"
	"undersounds/repository"
	"undersounds/storage"
)

// State 主文件所在层
type State string

const (
	StateHot  State = "HOT"
	StateCold State = "COLD"
)

// Manager 负责归档、恢复以及读取时的按需恢复
type Manager struct {
	repo   repository.TrackRepository
	store  storage.ObjectStore
	layout streaming.Layout
	locks  *keylock.KeyedMutex
	events streaming.Publisher
	cache  cache.TrackInfoCache
	folder string
	now    func() time.Time
	remove func(string) error
}

// NewManager creates a Manager. locks should be the same instance the generator uses;
// infoCache is invalidated whenever a track changes tier.
func NewManager(repo repository.TrackRepository, store storage.ObjectStore, layout streaming.Layout,
	locks *keylock.KeyedMutex, events streaming.Publisher, infoCache cache.TrackInfoCache, folder string) *Manager {
	if locks == nil {
		locks = keylock.New()
	}
	if events == nil {
		events = streaming.NopPublisher{}
	}
	if infoCache == nil {
		infoCache = cache.Noop{}
	}
	return &Manager{
		repo:   repo,
		store:  store,
		layout: layout,
		locks:  locks,
		events: events,
		cache:  infoCache,
		folder: folder,
		now:    time.Now,
		remove: os.Remove,
	}
}

var _ streaming.SourceOpener = (*Manager)(nil)

func lockKey(trackID int64) string {
	return fmt.Sprintf("lifecycle:%d", trackID)
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// localPath 主文件在热存储中的路径，以及文件是否存在
func (m *Manager) localPath(trackURL string) (string, bool) {
	name := streaming.SourceFileName(trackURL)
	if name == "" {
		return "", false
	}
	p := filepath.Join(m.layout.MusicDir, name)
	fi, err := os.Stat(p)
	return p, err == nil && !fi.IsDir()
}

// State 以磁盘上文件是否存在为准
func (m *Manager) State(ctx context.Context, trackID int64) (State, error) {
	track, err := m.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return "", err
	}
	if _, ok := m.localPath(track.URL); ok {
		return StateHot, nil
	}
	return StateCold, nil
}

// Archive 上传主文件到冷存储，持久化远端 URL 后删除本地文件。
// 上传失败曲目保持 HOT；持久化失败时远端对象保留、本地文件不动
func (m *Manager) Archive(ctx context.Context, trackID int64) (string, error) {
	unlock := m.locks.Lock(lockKey(trackID))
	defer unlock()

	track, err := m.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return "", err
	}
	local, ok := m.localPath(track.URL)
	if !ok {
		return "", apperr.NotFound("track %d: local file not found, nothing to archive", trackID)
	}

	logger.Info("开始归档曲目",
		logger.Int64("trackId", trackID),
		logger.String("localPath", local),
		logger.String("folder", m.folder))

	remoteURL, err := m.store.Upload(ctx, local, m.folder)
	if err != nil {
		logger.Error("上传到冷存储失败，曲目保持在热存储",
			logger.Int64("trackId", trackID), logger.ErrorField(err))
		return "", fmt.Errorf("archive track %d: %w", trackID, err)
	}

	if err := m.repo.UpdateArchiveState(ctx, trackID, repository.ArchiveState{
		URL:             remoteURL,
		IsArchived:      true,
		ClearBinaryData: true,
	}); err != nil {
		logger.Error("持久化归档状态失败，保留本地文件",
			logger.Int64("trackId", trackID),
			logger.String("remoteURL", remoteURL),
			logger.ErrorField(err))
		return "", fmt.Errorf("archive track %d: persist state: %w", trackID, err)
	}

	if err := m.removeLocal(local); err != nil {
		// 本地文件删不掉就回滚为 HOT，远端对象留待下次归档覆盖
		rollback := m.repo.UpdateArchiveState(ctx, trackID, repository.ArchiveState{
			URL:        track.URL,
			IsArchived: false,
		})
		logger.Error("删除本地文件失败，归档已回滚",
			logger.Int64("trackId", trackID),
			logger.String("localPath", local),
			logger.String("orphanObject", remoteURL),
			logger.ErrorField(err),
			logger.Any("rollbackError", rollback))
		m.invalidate(ctx, trackID)
		return "", apperr.TransientIO(errors.Join(err, rollback), "archive track %d: remove local file", trackID)
	}

	logger.Info("曲目已归档",
		logger.Int64("trackId", trackID),
		logger.String("remoteURL", remoteURL))
	m.invalidate(ctx, trackID)
	m.events.Publish(streaming.Event{TrackID: trackID, Type: streaming.EventTrackArchived})
	return remoteURL, nil
}

// Restore 从冷存储取回主文件并写回热存储
func (m *Manager) Restore(ctx context.Context, trackID int64) (string, error) {
	unlock := m.locks.Lock(lockKey(trackID))
	defer unlock()
	return m.restoreLocked(ctx, trackID)
}

func (m *Manager) restoreLocked(ctx context.Context, trackID int64) (string, error) {
	track, err := m.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return "", err
	}
	if local, ok := m.localPath(track.URL); ok {
		return local, nil
	}
	if !isRemote(track.URL) {
		return "", apperr.NotFound("track %d: file not found on disk and no archived copy", trackID)
	}

	fileName := streaming.SourceFileName(track.URL)
	if fileName == "" {
		return "", apperr.InvalidRequest("track %d: cannot derive file name from %q", trackID, track.URL)
	}
	if err := os.MkdirAll(m.layout.MusicDir, 0755); err != nil {
		return "", apperr.TransientIO(err, "create music dir")
	}
	canonical := filepath.Join(m.layout.MusicDir, fileName)

	logger.Info("开始从冷存储恢复曲目",
		logger.Int64("trackId", trackID),
		logger.String("remoteURL", track.URL))
	start := m.now()

	if err := m.download(ctx, track.URL, canonical); err != nil {
		logger.Error("恢复失败，曲目保持在冷存储", logger.Int64("trackId", trackID), logger.ErrorField(err))
		return "", fmt.Errorf("restore track %d: %w", trackID, err)
	}

	if err := m.repo.UpdateArchiveState(ctx, trackID, repository.ArchiveState{
		URL:        streaming.LocalMusicURL(fileName),
		IsArchived: false,
	}); err != nil {
		// 元数据仍指向远端，撤回本地文件保持一致
		_ = os.Remove(canonical)
		logger.Error("持久化恢复状态失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		return "", fmt.Errorf("restore track %d: persist state: %w", trackID, err)
	}

	logger.Info("曲目已恢复",
		logger.Int64("trackId", trackID),
		logger.String("localPath", canonical),
		logger.Duration("elapsed", m.now().Sub(start)))
	m.invalidate(ctx, trackID)
	m.events.Publish(streaming.Event{TrackID: trackID, Type: streaming.EventTrackRestored})
	return canonical, nil
}

// removeLocal 删除失败时重试一次，文件已不存在视为成功
func (m *Manager) removeLocal(local string) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = m.remove(local); err == nil || os.IsNotExist(err) {
			return nil
		}
		logger.Warn("删除本地文件失败",
			logger.String("localPath", local),
			logger.Int("attempt", attempt+1),
			logger.ErrorField(err))
	}
	return err
}

func (m *Manager) invalidate(ctx context.Context, trackID int64) {
	if err := m.cache.Invalidate(ctx, trackID); err != nil {
		logger.Warn("曲目缓存失效失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}
}

// download 先写入同目录临时文件，fsync 后再原子重命名
func (m *Manager) download(ctx context.Context, remoteURL, canonical string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(canonical), filepath.Base(canonical)+".restore-*")
	if err != nil {
		return apperr.TransientIO(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err = m.store.Download(ctx, remoteURL, tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return apperr.TransientIO(err, "fsync %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return apperr.TransientIO(err, "close %s", tmpName)
	}
	if err = os.Rename(tmpName, canonical); err != nil {
		return apperr.TransientIO(err, "rename %s", tmpName)
	}
	return nil
}

// Open 读取路径：本地文件缺失时无论标记如何都尝试恢复，成功读取后更新最后访问时间
func (m *Manager) Open(ctx context.Context, trackID int64) (string, error) {
	unlock := m.locks.Lock(lockKey(trackID))
	defer unlock()
	return m.openLocked(ctx, trackID)
}

// WithSource 打开主文件并在持有曲目锁期间执行 fn，fn 返回前归档和恢复都会等待
func (m *Manager) WithSource(ctx context.Context, trackID int64, fn func(path string) error) error {
	unlock := m.locks.Lock(lockKey(trackID))
	defer unlock()
	local, err := m.openLocked(ctx, trackID)
	if err != nil {
		return err
	}
	return fn(local)
}

// OpenByName 按主文件名读取，文件在冷存储时先恢复
func (m *Manager) OpenByName(ctx context.Context, fileName string) (string, error) {
	track, err := m.repo.FindBySourceName(ctx, fileName)
	if err != nil {
		return "", err
	}
	if streaming.SourceFileName(track.URL) != fileName {
		return "", apperr.NotFound("no track for file %s", fileName)
	}
	return m.Open(ctx, track.ID)
}

func (m *Manager) openLocked(ctx context.Context, trackID int64) (string, error) {
	track, err := m.repo.GetTrackByID(ctx, trackID)
	if err != nil {
		return "", err
	}

	local, ok := m.localPath(track.URL)
	if !ok {
		if track.IsArchived != isRemote(track.URL) {
			logger.Warn("归档标记与 URL 不一致，以文件为准",
				logger.Int64("trackId", trackID),
				logger.Bool("isArchived", track.IsArchived))
		}
		local, err = m.restoreLocked(ctx, trackID)
		if err != nil {
			return "", err
		}
		if fi, err := os.Stat(local); err != nil || fi.IsDir() {
			return "", apperr.NotFound("track %d: file still unreadable after restore", trackID)
		}
	}

	if err := m.repo.TouchLastAccessed(ctx, trackID, m.now()); err != nil {
		logger.Warn("更新最后访问时间失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}
	return local, nil
}

// ArchiveSummary 批量归档结果
type ArchiveSummary struct {
	Candidates int     `json:"candidates"`
	Archived   int     `json:"archived"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	FailedIDs  []int64 `json:"failedIds,omitempty"`
}

// ArchiveInactive 归档最后访问早于 olderThan 的热曲目；olderThan <= 0 时不做任何事
func (m *Manager) ArchiveInactive(ctx context.Context, olderThan time.Duration) (ArchiveSummary, error) {
	var sum ArchiveSummary
	if olderThan <= 0 {
		return sum, nil
	}
	tracks, err := m.repo.ListInactive(ctx, m.now().Add(-olderThan))
	if err != nil {
		return sum, err
	}
	sum.Candidates = len(tracks)
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if _, err := m.Archive(ctx, t.ID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				sum.Skipped++
				continue
			}
			sum.Failed++
			sum.FailedIDs = append(sum.FailedIDs, t.ID)
			continue
		}
		sum.Archived++
	}
	logger.Info("不活跃曲目归档完成",
		logger.Int("candidates", sum.Candidates),
		logger.Int("archived", sum.Archived),
		logger.Int("skipped", sum.Skipped),
		logger.Int("failed", sum.Failed))
	return sum, nil
}
