package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"undersounds/core/apperr"
	"undersounds/logger"

	"github.com/gorilla/mux"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入 JSON 响应失败", logger.ErrorField(err))
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   errorBody{Kind: kind, Message: message},
	})
}

// writeError 按错误类别映射状态码；内部错误不向客户端暴露细节
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败",
			logger.String("requestId", RequestIDFromContext(r.Context())),
			logger.String("path", r.URL.Path),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
	} else {
		logger.Debug("请求被拒绝",
			logger.String("requestId", RequestIDFromContext(r.Context())),
			logger.String("path", r.URL.Path),
			logger.String("kind", string(kind)),
			logger.ErrorField(err))
	}
	if kind == apperr.KindInternal {
		message = "internal server error"
	}
	writeErrorMessage(w, status, string(kind), message)
}

func trackIDFromRequest(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidRequest("invalid track id %q", raw)
	}
	return id, nil
}
