package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"

	maxRequestIDLen = 128
)

// RequestIDMiddleware 为每个请求确定请求 ID，上游传入的合法 ID 原样沿用，否则生成 UUID。
// ID 会写回响应头，并同时放入 gin 上下文和 request context 供日志与下游使用。
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := normalizeRequestID(c.GetHeader(HeaderRequestID))
		c.Header(HeaderRequestID, rid)
		c.Set(ginKeyRequestID, rid)
		c.Request = c.Request.WithContext(withRequestID(c.Request.Context(), rid))
		c.Next()
	}
}

func normalizeRequestID(rid string) string {
	rid = strings.TrimSpace(rid)
	if rid == "" || len(rid) > maxRequestIDLen || strings.ContainsAny(rid, "\r\n") {
		return uuid.New().String()
	}
	return rid
}
