// Package streaming 负责多码率变体的生成、目录维护、清单渲染与过期清理。
package streaming

import (
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"undersounds/model"
)

const (
	// MusicURLPrefix 主文件的公开路径前缀
	MusicURLPrefix = "/assets/music/"
	// VariantURLPrefix 变体的公开路径前缀
	VariantURLPrefix = "/assets/music/variants/"

	variantExt = ".m4a"
	partExt    = ".part"
	lockName   = ".lock"
)

// Layout 描述热存储目录结构
type Layout struct {
	MusicDir    string
	VariantsDir string
}

// VariantDir returns <VariantsDir>/<trackID>.
func (l Layout) VariantDir(trackID int64) string {
	return filepath.Join(l.VariantsDir, strconv.FormatInt(trackID, 10))
}

// VariantPath returns <VariantsDir>/<trackID>/<tier>.m4a.
func (l Layout) VariantPath(trackID int64, tier model.QualityTier) string {
	return filepath.Join(l.VariantDir(trackID), string(tier)+variantExt)
}

// VariantURL 变体的相对 URL
func VariantURL(trackID int64, tier model.QualityTier) string {
	return VariantURLPrefix + strconv.FormatInt(trackID, 10) + "/" + string(tier) + variantExt
}

// SourceFileName 从曲目 URL（本地路径或远端对象 URL）取出文件名
func SourceFileName(trackURL string) string {
	p := trackURL
	if u, err := url.Parse(trackURL); err == nil && u.Path != "" {
		p = u.Path
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
	}
	name := path.Base(strings.TrimRight(p, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// SourcePath 主文件在热存储中的规范路径，无法推断时返回空串
func (l Layout) SourcePath(track *model.Track) string {
	name := SourceFileName(track.URL)
	if name == "" {
		return ""
	}
	return filepath.Join(l.MusicDir, name)
}

// LocalMusicURL 主文件的规范相对 URL
func LocalMusicURL(fileName string) string {
	return MusicURLPrefix + fileName
}

// ResolveAssetURL joins a relative asset path onto baseURL. Absolute URLs pass through.
func ResolveAssetURL(baseURL, relativePath string) string {
	if relativePath == "" {
		return ""
	}
	if strings.HasPrefix(relativePath, "http://") || strings.HasPrefix(relativePath, "https://") {
		return relativePath
	}
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return relativePath
	}
	if !strings.HasPrefix(relativePath, "/") {
		relativePath = "/" + relativePath
	}
	return base + relativePath
}
