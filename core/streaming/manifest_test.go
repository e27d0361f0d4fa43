package streaming

import (
	"strings"
	"testing"

	"undersounds/model"

	"github.com/stretchr/testify/require"
)

func TestBuildManifestEmptyIsValid(t *testing.T) {
	m := BuildManifest("http://localhost:8080", nil)
	require.Equal(t, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-ENDLIST\n", m)
}

func TestBuildManifestOrdersAndResolves(t *testing.T) {
	variants := model.StreamVariants{
		model.TierHQ:  {Bitrate: "320k", URL: VariantURL(5, model.TierHQ)},
		model.TierLow: {Bitrate: "64k", URL: VariantURL(5, model.TierLow)},
	}

	m := BuildManifest("http://cdn.local/", variants.Ordered())
	lines := strings.Split(strings.TrimSpace(m), "\n")
	require.Equal(t, []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		`#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS="mp4a.40.2"`,
		"http://cdn.local/assets/music/variants/5/low.m4a",
		`#EXT-X-STREAM-INF:BANDWIDTH=320000,CODECS="mp4a.40.2"`,
		"http://cdn.local/assets/music/variants/5/hq.m4a",
		"#EXT-X-ENDLIST",
	}, lines)
}

func TestBuildManifestFallsBackToPolicyBitrate(t *testing.T) {
	m := BuildManifest("", []model.VariantInfo{{Tier: model.TierMedium, URL: "/x.m4a"}})
	require.Contains(t, m, "BANDWIDTH=128000")
	require.Contains(t, m, "\n/x.m4a\n")
}

func TestResolveAssetURL(t *testing.T) {
	require.Equal(t, "http://h:8080/assets/music/a.mp3", ResolveAssetURL("http://h:8080/", "/assets/music/a.mp3"))
	require.Equal(t, "http://h:8080/assets/music/a.mp3", ResolveAssetURL("http://h:8080", "assets/music/a.mp3"))
	require.Equal(t, "https://minio/b/a.mp3", ResolveAssetURL("http://h:8080", "https://minio/b/a.mp3"))
	require.Equal(t, "/assets/music/a.mp3", ResolveAssetURL("", "/assets/music/a.mp3"))
	require.Equal(t, "", ResolveAssetURL("http://h", ""))
}

func TestSourceFileName(t *testing.T) {
	require.Equal(t, "a.mp3", SourceFileName("/assets/music/a.mp3"))
	require.Equal(t, "song one.mp3", SourceFileName("http://minio:9000/undersounds/proyecto_cloud/song%20one.mp3"))
	require.Equal(t, "b.flac", SourceFileName("b.flac"))
	require.Equal(t, "", SourceFileName(""))
}
