package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MUSIC_DIR", "/srv/music")
	t.Setenv("PUBLIC_BASE_URL", "https://cdn.example.com/")

	cfg := Load()
	require.Equal(t, "/srv/music", cfg.MusicDir)
	require.Equal(t, "/srv/music/variants", cfg.VariantsDir)
	require.Equal(t, "https://cdn.example.com", cfg.PublicBaseURL)
	require.Equal(t, 90, cfg.VariantMaxAgeDays)
	require.True(t, cfg.LazyGenerate)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VARIANT_MAX_AGE_DAYS", "30")
	t.Setenv("ARCHIVE_AFTER", "48h")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	require.Equal(t, 30, cfg.VariantMaxAgeDays)
	require.Equal(t, 48*time.Hour, cfg.ArchiveAfter)
	require.True(t, cfg.MinioUseSSL)
	require.Equal(t, 0, cfg.RedisDB)
}
