package storage

import (
	"bytes"
	"testing"
	"time"

	"undersounds/config"
	"undersounds/core/apperr"

	"github.com/stretchr/testify/require"
)

func TestObjectKeyFromURL(t *testing.T) {
	key, err := ObjectKeyFromURL("http://127.0.0.1:9000/undersounds/proyecto_cloud/song%20one.mp3", "undersounds")
	require.NoError(t, err)
	require.Equal(t, "proyecto_cloud/song one.mp3", key)

	_, err = ObjectKeyFromURL("http://cdn.example.com/other/file.mp3", "undersounds")
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, err = ObjectKeyFromURL("http://127.0.0.1:9000/undersounds/", "undersounds")
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestObjectURLRoundTrip(t *testing.T) {
	s := &MinioStore{bucket: "undersounds", baseURL: publicBaseURL(&config.Config{MinioEndpoint: "minio:9000"})}
	u := s.ObjectURL("proyecto_cloud/a.mp3")
	require.Equal(t, "http://minio:9000/undersounds/proyecto_cloud/a.mp3", u)

	key, err := ObjectKeyFromURL(u, "undersounds")
	require.NoError(t, err)
	require.Equal(t, "proyecto_cloud/a.mp3", key)
}

func TestPublicBaseURLOverride(t *testing.T) {
	require.Equal(t, "https://s3.example.com", publicBaseURL(&config.Config{MinioEndpoint: "x", MinioPublicURL: "https://s3.example.com"}))
	require.Equal(t, "https://x:9000", publicBaseURL(&config.Config{MinioEndpoint: "x:9000", MinioUseSSL: true}))
}

func TestSummarizeAndPrint(t *testing.T) {
	newest := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	objects := []ObjectInfo{
		{Key: "proyecto_cloud/a.mp3", Size: 2 << 20, LastModified: newest.Add(-time.Hour)},
		{Key: "proyecto_cloud/b.MP3", Size: 1 << 20, LastModified: newest},
		{Key: "proyecto_cloud/README", Size: 10, LastModified: newest.Add(-2 * time.Hour)},
	}

	stats := Summarize("undersounds", "proyecto_cloud/", objects)
	require.Equal(t, int64(3), stats.TotalObjects)
	require.Equal(t, int64(3<<20+10), stats.TotalSize)
	require.Equal(t, newest, stats.LastModified)
	require.Equal(t, int64(2), stats.TypeStats["mp3"])
	require.Equal(t, int64(1), stats.TypeStats["unknown"])

	var buf bytes.Buffer
	PrintBucketStatus(&buf, objects, stats)
	require.Contains(t, buf.String(), "undersounds")
	require.Contains(t, buf.String(), "3.0 MiB")
	require.Contains(t, buf.String(), "proyecto_cloud/b.MP3")
}
