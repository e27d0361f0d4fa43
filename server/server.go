package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"undersounds/config"
	"undersounds/core/lifecycle"
	"undersounds/core/streaming"
	"undersounds/logger"

	"github.com/gorilla/mux"
)

// Lifecycle 冷热存储操作，由 lifecycle.Manager 实现
type Lifecycle interface {
	Archive(ctx context.Context, trackID int64) (string, error)
	Restore(ctx context.Context, trackID int64) (string, error)
	Open(ctx context.Context, trackID int64) (string, error)
	OpenByName(ctx context.Context, fileName string) (string, error)
	State(ctx context.Context, trackID int64) (lifecycle.State, error)
}

var _ Lifecycle = (*lifecycle.Manager)(nil)

// Server 流媒体 HTTP 服务
type Server struct {
	cfg       *config.Config
	streaming *streaming.Service
	lifecycle Lifecycle
	events    *streaming.EventHub
	router    *mux.Router
	handler   http.Handler

	quit     chan struct{}
	quitOnce sync.Once
}

// New builds the router. events may be nil, in which case the events endpoint returns 404.
func New(cfg *config.Config, svc *streaming.Service, lc Lifecycle, events *streaming.EventHub) *Server {
	s := &Server{
		cfg:       cfg,
		streaming: svc,
		lifecycle: lc,
		events:    events,
		quit:      make(chan struct{}),
	}
	s.router = s.routes()
	// 中间件包在路由外层，OPTIONS 预检不受路由方法限制
	s.handler = requestIDMiddleware(accessLogMiddleware(corsMiddleware(s.router)))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	// 新前缀与旧的 /api/streaming 共用一套处理器
	for _, prefix := range []string{"/streaming", "/api/streaming"} {
		r := router.PathPrefix(prefix).Subrouter()
		r.HandleFunc("/track/{id:[0-9]+}/info", s.handleInfo).Methods(http.MethodGet)
		r.HandleFunc("/track/{id:[0-9]+}/manifest.m3u8", s.handleManifest).Methods(http.MethodGet)
		r.HandleFunc("/track/{id:[0-9]+}/stats", s.handleStats).Methods(http.MethodGet)
		r.HandleFunc("/track/{id:[0-9]+}/download", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
		r.HandleFunc("/track/{id:[0-9]+}/archive", s.handleArchive).Methods(http.MethodPost)
		r.HandleFunc("/track/{id:[0-9]+}/restore", s.handleRestore).Methods(http.MethodPost)
		r.HandleFunc("/track/{id:[0-9]+}/variants", s.handleGenerate).Methods(http.MethodPost)
		r.HandleFunc("/track/{id:[0-9]+}/events", s.handleEvents).Methods(http.MethodGet)
		r.HandleFunc("/cleanup/{id:[0-9]+}", s.handleCleanup).Methods(http.MethodPost)
		r.HandleFunc("/bandwidth-test", s.handleBandwidthTest).Methods(http.MethodGet)
	}

	router.HandleFunc(streaming.VariantURLPrefix+"{id:[0-9]+}/{tier:[a-z]+}.m4a", s.handleVariantAsset).
		Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc(streaming.MusicURLPrefix+"{file}", s.handleMusicAsset).
		Methods(http.MethodGet, http.MethodHead)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "not_found", "route not found")
	})
	return router
}

// Run 启动服务，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// 下载和 WebSocket 是长连接，不设写超时
	}
	srv.RegisterOnShutdown(s.closeStreams)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动",
			logger.String("addr", s.cfg.HTTPAddr),
			logger.String("baseUrl", s.cfg.PublicBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP 服务已停止")
	return nil
}

// closeStreams 通知已劫持的 WebSocket 连接退出
func (s *Server) closeStreams() {
	s.quitOnce.Do(func() { close(s.quit) })
}
