package streaming

import (
	"fmt"
	"strings"

	"undersounds/model"
)

// ManifestContentType HLS 主清单的 MIME 类型
const ManifestContentType = "application/vnd.apple.mpegurl"

// AACCodec HE/LC AAC 在 CODECS 属性中的标识
const AACCodec = "mp4a.40.2"

// BuildManifest 渲染主播放清单，variants 需已按码率升序；零个变体时仍是合法清单
func BuildManifest(baseURL string, variants []model.VariantInfo) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		bps := model.ParseBitrate(v.Bitrate)
		if bps <= 0 {
			if p, ok := model.PolicyFor(v.Tier); ok {
				bps = p.BitsPerSecond()
			}
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"\n", bps, AACCodec)
		b.WriteString(ResolveAssetURL(baseURL, v.URL))
		b.WriteString("\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
