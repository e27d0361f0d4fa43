package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"undersounds/core/apperr"
	"undersounds/core/bandwidth"
	"undersounds/core/lifecycle"
	"undersounds/core/streaming"
	"undersounds/logger"
	"undersounds/model"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	info, err := s.streaming.Info(r.Context(), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"track":   info,
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	manifest, err := s.streaming.Manifest(r.Context(), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", streaming.ManifestContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, manifest)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.streaming.Stats(r.Context(), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trackId": trackID,
		"stats":   stats,
	})
}

type cleanupRequest struct {
	DaysThreshold *int `json:"daysThreshold"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.InvalidRequest("invalid request body: %v", err))
		return
	}
	days := s.cfg.VariantMaxAgeDays
	if req.DaysThreshold != nil {
		days = *req.DaysThreshold
	}

	removed, err := s.streaming.Cleanup(context.WithoutCancel(r.Context()), trackID, days)
	if err != nil && len(removed) == 0 {
		writeError(w, r, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	resp := map[string]interface{}{
		"success":       true,
		"message":       fmt.Sprintf("cleanup completed for track %d", trackID),
		"daysThreshold": days,
		"removed":       removed,
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBandwidthTest(w http.ResponseWriter, r *http.Request) {
	size := bandwidth.DefaultProbeSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		// 非法值回退默认大小
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			size = n
		}
	}
	if limit := s.cfg.BandwidthMaxSize; limit > 0 && size > limit {
		writeError(w, r, apperr.InvalidRequest("size %d exceeds maximum %d", size, limit))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.Itoa(size))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	chunk := make([]byte, 32*1024)
	for remaining := size; remaining > 0; {
		n := len(chunk)
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(chunk[:n]); err != nil {
			return
		}
		remaining -= n
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// 客户端断开不应中断编码
	ctx := context.WithoutCancel(r.Context())
	variants, err := s.streaming.Generate(ctx, trackID)
	if err != nil && len(variants) == 0 {
		writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"success":        true,
		"trackId":        trackID,
		"streamVariants": s.absoluteVariants(variants),
	}
	if err != nil {
		logger.Warn("部分档位生成失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		resp["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) absoluteVariants(variants model.StreamVariants) model.StreamVariants {
	out := make(model.StreamVariants, len(variants))
	for tier, v := range variants {
		v.URL = streaming.ResolveAssetURL(s.cfg.PublicBaseURL, v.URL)
		out[tier] = v
	}
	return out
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// 归档和恢复开始后不随客户端断开而中止
	remoteURL, err := s.lifecycle.Archive(context.WithoutCancel(r.Context()), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trackId": trackID,
		"state":   lifecycle.StateCold,
		"url":     remoteURL,
	})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	trackID, err := trackIDFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	local, err := s.lifecycle.Restore(context.WithoutCancel(r.Context()), trackID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trackId": trackID,
		"state":   lifecycle.StateHot,
		"url":     streaming.ResolveAssetURL(s.cfg.PublicBaseURL, streaming.LocalMusicURL(filepath.Base(local))),
	})
}
