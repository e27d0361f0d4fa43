package streaming

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"undersounds/core/apperr"
	"undersounds/model"
	"undersounds/repository"

	"github.com/stretchr/testify/require"
)

type recordingCache struct {
	mu          sync.Mutex
	entries     map[int64]*model.TrackInfo
	invalidated []int64
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[int64]*model.TrackInfo)}
}

func (c *recordingCache) Get(_ context.Context, id int64) (*model.TrackInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[id]
	return info, ok
}

func (c *recordingCache) Set(_ context.Context, info *model.TrackInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[info.ID] = info
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type serviceFixture struct {
	layout Layout
	repo   *repository.MemoryTrackRepository
	enc    *fakeEncoder
	cache  *recordingCache
	hub    *EventHub
	svc    *Service
}

func newServiceFixture(t *testing.T, lazy bool) *serviceFixture {
	t.Helper()
	layout := newTestLayout(t)
	writeSource(t, layout, "a.mp3")
	repo := repository.NewMemoryTrackRepository(
		&model.Track{ID: 1, Title: "Song", Duration: 180, URL: "/assets/music/a.mp3"},
		&model.Track{ID: 2, Title: "Cold", URL: "http://minio/undersounds/proyecto_cloud/b.mp3", IsArchived: true},
	)
	enc := &fakeEncoder{}
	gen := NewGenerator(enc, layout, nil)
	f := &serviceFixture{layout: layout, repo: repo, enc: enc, cache: newRecordingCache(), hub: NewEventHub(8)}
	f.svc = NewService(repo, gen, NewSweeper(layout), Options{
		BaseURL:      "http://localhost:8080",
		LazyGenerate: lazy,
		Cache:        f.cache,
		Events:       f.hub,
	})
	return f
}

func TestServiceGeneratePersistsAndPublishes(t *testing.T) {
	f := newServiceFixture(t, false)
	events, unsubscribe := f.hub.Subscribe(1)
	defer unsubscribe()

	variants, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, variants, 4)

	track, err := f.repo.GetTrackByID(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, track.StreamVariants, 4)
	require.Contains(t, f.cache.invalidated, int64(1))

	select {
	case ev := <-events:
		require.Equal(t, EventVariantsGenerated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestServiceInfoResolvesURLsAndCaches(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)

	info, err := f.svc.Info(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/assets/music/a.mp3", info.OriginalURL)
	require.Equal(t, "http://localhost:8080/assets/music/variants/1/low.m4a", info.StreamVariants[model.TierLow].URL)

	_, cached := f.cache.Get(context.Background(), 1)
	require.True(t, cached)

	// 持久化的 URL 仍是相对路径
	track, _ := f.repo.GetTrackByID(context.Background(), 1)
	require.Equal(t, "/assets/music/variants/1/low.m4a", track.StreamVariants[model.TierLow].URL)
}

func TestServiceInfoPopulatesFromDisk(t *testing.T) {
	f := newServiceFixture(t, false)
	touchVariant(t, f.layout, 1, model.TierMedium, time.Hour)

	info, err := f.svc.Info(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, info.StreamVariants, 1)
	require.Equal(t, 0, f.enc.Calls())

	track, _ := f.repo.GetTrackByID(context.Background(), 1)
	require.Contains(t, track.StreamVariants, model.TierMedium)
}

func TestServiceInfoLazyGeneration(t *testing.T) {
	f := newServiceFixture(t, true)

	info, err := f.svc.Info(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, info.StreamVariants)

	f.svc.Wait()
	require.Equal(t, 4, f.enc.Calls())
	track, _ := f.repo.GetTrackByID(context.Background(), 1)
	require.Len(t, track.StreamVariants, 4)

	// 冷存储的曲目不会触发后台生成
	_, err = f.svc.Info(context.Background(), 2)
	require.NoError(t, err)
	f.svc.Wait()
	require.Equal(t, 4, f.enc.Calls())
}

func TestServiceInfoNotFound(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Info(context.Background(), 99)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestServiceManifestOmitsMissingFiles(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.layout.VariantPath(1, model.TierHigh)))

	m, err := f.svc.Manifest(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(m, "#EXT-X-STREAM-INF"))
	require.NotContains(t, m, "high.m4a")
	require.Less(t, strings.Index(m, "low.m4a"), strings.Index(m, "hq.m4a"))
}

func TestServiceManifestWithoutVariants(t *testing.T) {
	f := newServiceFixture(t, false)
	m, err := f.svc.Manifest(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-ENDLIST\n", m)
}

func TestServiceVariantFile(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)

	p, err := f.svc.VariantFile(context.Background(), 1, model.TierLow)
	require.NoError(t, err)
	require.Equal(t, f.layout.VariantPath(1, model.TierLow), p)

	track, _ := f.repo.GetTrackByID(context.Background(), 1)
	require.NotNil(t, track.StreamVariants[model.TierLow].LastAccessedAt)

	_, err = f.svc.VariantFile(context.Background(), 2, model.TierLow)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Contains(t, err.Error(), "tier unavailable")

	_, err = f.svc.VariantFile(context.Background(), 1, model.QualityTier("ultra"))
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestServiceStatsOmitsAbsentTiers(t *testing.T) {
	f := newServiceFixture(t, false)
	touchVariant(t, f.layout, 1, model.TierLow, time.Hour)
	touchVariant(t, f.layout, 1, model.TierHQ, time.Hour)

	stats, err := f.svc.Stats(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stats.Variants, 2)
	require.Equal(t, model.TierLow, stats.Variants[0].Tier)
	require.Equal(t, model.TierHQ, stats.Variants[1].Tier)
	require.Equal(t, int64(6), stats.TotalSize)
	require.Equal(t, "6 B", stats.TotalSizeHuman)
}

func TestServiceCleanupKeepsMetadata(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)
	old := time.Now().Add(-100 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(f.layout.VariantPath(1, model.TierLow), old, old))

	removed, err := f.svc.Cleanup(context.Background(), 1, 90)
	require.NoError(t, err)
	require.Equal(t, []string{"low.m4a"}, removed)

	track, _ := f.repo.GetTrackByID(context.Background(), 1)
	require.Len(t, track.StreamVariants, 4)

	m, err := f.svc.Manifest(context.Background(), 1)
	require.NoError(t, err)
	require.NotContains(t, m, "low.m4a")
}

func TestServiceGenerateAllSkipsComplete(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Generate(context.Background(), 1)
	require.NoError(t, err)

	sum, err := f.svc.GenerateAll(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 1, sum.Failed) // 冷存储且无 SourceOpener
	require.Equal(t, []int64{2}, sum.FailedIDs)
}
