// Package resp 定义统一的 HTTP 响应包装与业务错误码。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务错误码
const (
	CodeOK                 = 0
	CodeInvalidParam       = 40001
	CodeUnauthorized       = 40101
	CodeForbidden          = 40301
	CodeNotFound           = 40401
	CodeProductUnavailable = 40901
	CodeInsufficientStock  = 40902
	CodeInvalidTransition  = 40903
	CodeDuplicateRequest   = 40904
	CodeTooManyRequests    = 42901
	CodeInternalError      = 50001
	CodeTimeout            = 50401
)

// Response 统一响应结构
type Response[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      T      `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON 写出统一格式的 JSON 响应
func WriteJSON(w http.ResponseWriter, status, code int, message string, data any, reqID, traceID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if reqID != "" {
		w.Header().Set("X-Request-ID", reqID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response[any]{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: reqID,
		TraceID:   traceID,
	})
}

// OK 返回成功响应
func OK(w http.ResponseWriter, data any, reqID, traceID string) {
	WriteJSON(w, http.StatusOK, CodeOK, "success", data, reqID, traceID)
}

// Created 返回资源创建成功响应
func Created(w http.ResponseWriter, data any, reqID, traceID string) {
	WriteJSON(w, http.StatusCreated, CodeOK, "created", data, reqID, traceID)
}

// Error 返回错误响应
func Error(w http.ResponseWriter, status, code int, message, reqID, traceID string) {
	WriteJSON(w, status, code, message, nil, reqID, traceID)
}

// HTTPStatusFromCode 将业务错误码映射为 HTTP 状态码
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeProductUnavailable, CodeInsufficientStock, CodeInvalidTransition, CodeDuplicateRequest:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
