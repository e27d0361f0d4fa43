package streaming

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"undersounds/cache"
	"undersounds/logger"
	"undersounds/model"

	"github.com/fsnotify/fsnotify"
)

// VariantWatcher 监听变体目录，外部删除文件时让 info 缓存失效并推送事件
type VariantWatcher struct {
	root    string
	cache   cache.TrackInfoCache
	events  Publisher
	watcher *fsnotify.Watcher
}

// NewVariantWatcher watches layout.VariantsDir and every track directory below it.
func NewVariantWatcher(layout Layout, c cache.TrackInfoCache, events Publisher) (*VariantWatcher, error) {
	if err := os.MkdirAll(layout.VariantsDir, 0755); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = cache.Noop{}
	}
	if events == nil {
		events = NopPublisher{}
	}
	vw := &VariantWatcher{root: layout.VariantsDir, cache: c, events: events, watcher: w}

	if err := w.Add(vw.root); err != nil {
		w.Close()
		return nil, err
	}
	entries, err := os.ReadDir(vw.root)
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			vw.addDir(filepath.Join(vw.root, e.Name()))
		}
	}
	return vw, nil
}

func (vw *VariantWatcher) addDir(dir string) {
	if err := vw.watcher.Add(dir); err != nil {
		logger.Warn("watcher add failed", logger.String("dir", dir), logger.ErrorField(err))
	}
}

// Run 处理事件直到 ctx 结束，返回前关闭底层 watcher
func (vw *VariantWatcher) Run(ctx context.Context) {
	defer vw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-vw.watcher.Events:
			if !ok {
				return
			}
			vw.handle(ctx, event)
		case err, ok := <-vw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}

func (vw *VariantWatcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(vw.root) {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			vw.addDir(event.Name)
		}
		return
	}
	if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	trackID, tier, ok := parseVariantPath(vw.root, event.Name)
	if !ok {
		return
	}
	logger.Info("检测到变体被删除",
		logger.Int64("trackId", trackID),
		logger.String("tier", string(tier)))
	if err := vw.cache.Invalidate(ctx, trackID); err != nil {
		logger.Warn("曲目缓存失效失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}
	vw.events.Publish(Event{TrackID: trackID, Type: EventVariantRemoved, Tier: tier})
}

// parseVariantPath 解析 <root>/<trackId>/<tier>.m4a
func parseVariantPath(root, name string) (int64, model.QualityTier, bool) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return 0, "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], variantExt) {
		return 0, "", false
	}
	trackID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	tier := model.QualityTier(strings.TrimSuffix(parts[1], variantExt))
	if !tier.Valid() {
		return 0, "", false
	}
	return trackID, tier, true
}
