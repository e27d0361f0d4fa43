package streaming

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"undersounds/core/apperr"
	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func touchVariant(t *testing.T, l Layout, trackID int64, tier model.QualityTier, age time.Duration) string {
	t.Helper()
	p := l.VariantPath(trackID, tier)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("m4a"), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func TestSweepTrackRemovesOnlyOldFiles(t *testing.T) {
	layout := newTestLayout(t)
	old := touchVariant(t, layout, 1, model.TierLow, 91*24*time.Hour)
	fresh := touchVariant(t, layout, 1, model.TierHigh, 89*24*time.Hour)
	lock := filepath.Join(layout.VariantDir(1), lockName)
	require.NoError(t, os.WriteFile(lock, nil, 0o644))
	require.NoError(t, os.Chtimes(lock, time.Now().Add(-200*24*time.Hour), time.Now().Add(-200*24*time.Hour)))

	removed, err := NewSweeper(layout).SweepTrack(context.Background(), 1, 90)
	require.NoError(t, err)
	require.Equal(t, []string{"low.m4a"}, removed)
	require.NoFileExists(t, old)
	require.FileExists(t, fresh)
	require.FileExists(t, lock)
}

func TestSweepTrackMissingDirIsNoop(t *testing.T) {
	layout := newTestLayout(t)
	removed, err := NewSweeper(layout).SweepTrack(context.Background(), 404, 90)
	require.NoError(t, err)
	require.Empty(t, removed)
}

func TestSweepTrackRejectsNegativeDays(t *testing.T) {
	_, err := NewSweeper(newTestLayout(t)).SweepTrack(context.Background(), 1, -1)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestSweepAllAndDeleteAll(t *testing.T) {
	layout := newTestLayout(t)
	touchVariant(t, layout, 1, model.TierLow, 100*24*time.Hour)
	touchVariant(t, layout, 2, model.TierLow, 100*24*time.Hour)
	touchVariant(t, layout, 2, model.TierMedium, 100*24*time.Hour)
	touchVariant(t, layout, 3, model.TierHQ, time.Hour)

	sw := NewSweeper(layout)
	res, err := sw.SweepAll(context.Background(), []int64{1, 2, 3, 4}, 90)
	require.NoError(t, err)
	require.Equal(t, 4, res.TracksProcessed)
	require.Equal(t, 3, res.FilesRemoved)
	require.Len(t, res.Removed[2], 2)
	require.NotContains(t, res.Removed, int64(3))

	require.NoError(t, sw.DeleteAll(3))
	require.NoDirExists(t, layout.VariantDir(3))
	require.NoError(t, sw.DeleteAll(3))
}
