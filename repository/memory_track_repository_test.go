package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"undersounds/core/apperr"
	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryTrackRepository()
	_, err := repo.GetTrackByID(context.Background(), 7)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, repo.TouchLastAccessed(context.Background(), 7, time.Now()), apperr.ErrNotFound)
}

func TestMemoryRepositoryArchiveState(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTrackRepository(&model.Track{ID: 1, URL: "/assets/music/a.mp3", BinaryData: []byte{1, 2}})

	require.NoError(t, repo.UpdateArchiveState(ctx, 1, ArchiveState{URL: "http://minio/b/a.mp3", IsArchived: true, ClearBinaryData: true}))
	got, err := repo.GetTrackByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, got.IsArchived)
	require.Equal(t, "http://minio/b/a.mp3", got.URL)
	require.Nil(t, got.BinaryData)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTrackRepository(&model.Track{ID: 1})
	require.NoError(t, repo.UpdateStreamVariants(ctx, 1, model.StreamVariants{model.TierLow: {Bitrate: "64k"}}))

	got, _ := repo.GetTrackByID(ctx, 1)
	got.StreamVariants[model.TierHQ] = model.VariantInfo{}

	again, _ := repo.GetTrackByID(ctx, 1)
	require.Len(t, again.StreamVariants, 1)
}

func TestMemoryRepositoryListInactive(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	repo := NewMemoryTrackRepository(
		&model.Track{ID: 1, LastAccessed: &old},
		&model.Track{ID: 2, LastAccessed: &recent},
		&model.Track{ID: 3, LastAccessed: &old, IsArchived: true},
		&model.Track{ID: 4, CreatedAt: old},
	)

	tracks, err := repo.ListInactive(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	require.Equal(t, int64(1), tracks[0].ID)
	require.Equal(t, int64(4), tracks[1].ID)
}

func TestMemoryRepositoryFailNext(t *testing.T) {
	repo := NewMemoryTrackRepository(&model.Track{ID: 1})
	repo.FailNext = errors.New("db down")

	require.Error(t, repo.UpdateArchiveState(context.Background(), 1, ArchiveState{IsArchived: true}))
	require.NoError(t, repo.UpdateArchiveState(context.Background(), 1, ArchiveState{IsArchived: true}))
}

func TestMemoryRepositoryFindBySourceName(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTrackRepository(
		&model.Track{ID: 3, URL: "http://minio/b/proyecto_cloud/a.mp3", IsArchived: true},
		&model.Track{ID: 5, URL: "/assets/music/mya.mp3"},
	)

	got, err := repo.FindBySourceName(ctx, "a.mp3")
	require.NoError(t, err)
	require.Equal(t, int64(3), got.ID)

	_, err = repo.FindBySourceName(ctx, "b.mp3")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
