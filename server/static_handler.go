package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"undersounds/core/apperr"
	"undersounds/model"

	"github.com/gorilla/mux"
)

// handleVariantAsset 发送变体文件，未知或缺失的档位一律 404
func (s *Server) handleVariantAsset(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tier := model.QualityTier(mux.Vars(r)["tier"])
	if !tier.Valid() {
		writeError(w, r, apperr.NotFound("tier unavailable: %s", tier))
		return
	}
	p, err := s.streaming.VariantFile(r.Context(), trackID, tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if err := serveFile(w, r, p, "audio/mp4"); err != nil {
		writeError(w, r, err)
	}
}

// handleDownload 读取主文件；文件在冷存储时先恢复
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.lifecycle.Open(context.WithoutCancel(r.Context()), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(p)))
	if err := serveFile(w, r, p, detectContentType(p)); err != nil {
		writeError(w, r, err)
	}
}

// handleMusicAsset 主文件的静态地址，只允许目录下的普通文件；本地缺失时按文件名找到曲目并恢复
func (s *Server) handleMusicAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, r, apperr.NotFound("file not found: %s", name))
		return
	}
	p := filepath.Join(s.cfg.MusicDir, name)
	if fi, err := os.Stat(p); err != nil || fi.IsDir() {
		restored, err := s.lifecycle.OpenByName(context.WithoutCancel(r.Context()), name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		p = restored
	}
	if err := serveFile(w, r, p, detectContentType(p)); err != nil {
		writeError(w, r, err)
	}
}

// serveFile 支持 Range 请求；出错时尚未写出任何内容
func serveFile(w http.ResponseWriter, r *http.Request, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.NotFound("file not found: %s", filepath.Base(path))
		}
		return apperr.TransientIO(err, "open %s", filepath.Base(path))
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return apperr.TransientIO(err, "stat %s", filepath.Base(path))
	}
	if fi.IsDir() {
		return apperr.NotFound("file not found: %s", filepath.Base(path))
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	return nil
}

// detectContentType 根据扩展名检测内容类型
func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4", ".aac":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg", ".oga":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
