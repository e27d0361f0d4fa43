// Package apperr 定义流媒体核心的错误分类，供 HTTP 层映射状态码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindTransientIO    Kind = "transient_io"
	KindInvalidRequest Kind = "invalid_request"
	KindEncodeFailure  Kind = "encode_failure"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

// Error carries a machine-checkable kind plus a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, apperr.ErrNotFound) works for any NotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrTransientIO    = &Error{Kind: KindTransientIO}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrEncodeFailure  = &Error{Kind: KindEncodeFailure}
	ErrConflict       = &Error{Kind: KindConflict}
)

func newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, nil, format, args...)
}

func InvalidRequest(format string, args ...interface{}) error {
	return newf(KindInvalidRequest, nil, format, args...)
}

func TransientIO(err error, format string, args ...interface{}) error {
	return newf(KindTransientIO, err, format, args...)
}

func EncodeFailure(err error, format string, args ...interface{}) error {
	return newf(KindEncodeFailure, err, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, nil, format, args...)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindEncodeFailure:
		return http.StatusBadGateway
	case KindTransientIO:
		return http.StatusServiceUnavailable
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
