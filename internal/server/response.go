package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 写入错误响应. 非 *types.Error 视为内部错误.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var te *types.Error
	switch {
	case errors.As(err, &te):
	case errors.Is(err, persistence.ErrNotFound):
		te = types.NewError(types.ErrTaskNotFound, err.Error())
	default:
		te = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}

	status := te.HTTPStatus
	if status == 0 {
		status = statusFor(te.Code)
	}
	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("API error",
			zap.String("code", string(te.Code)),
			zap.String("message", te.Message),
			zap.Int("status", status),
			zap.Error(te.Cause))
	}

	WriteJSON(w, status, Response{
		Error:     &ErrorInfo{Code: string(te.Code), Message: te.Message, Retryable: te.Retryable},
		Timestamp: time.Now(),
	})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrProviderNotFound, types.ErrConversationNotFound, types.ErrTaskNotFound:
		return http.StatusNotFound
	case types.ErrProviderMismatch:
		return http.StatusConflict
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrChannelUnavailable, types.ErrClosed:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
