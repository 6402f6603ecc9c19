// Package middleware 提供 HTTP 中间件：请求 ID、恢复、超时、CORS、访问日志、认证与幂等等。
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// contextKey 用于在上下文中存取特定键，避免与外部键冲突。
type contextKey string

// 约定的上下文键集合。
const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyPrincipal contextKey = "principal"
)

// gin.Context 中使用的键
const (
	ginKeyRequestID = "request_id"
	ginKeyTraceID   = "trace_id"
	ginKeyPrincipal = "principal"
)

// withRequestID 将请求 ID 写入上下文。
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 从上下文中读取请求 ID（可能为空）。
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PrincipalFromContext 从上下文中读取调用方身份（未认证时为 nil）
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	if p, ok := ctx.Value(contextKeyPrincipal).(*domain.Principal); ok {
		return p
	}
	return nil
}

// RequestID 返回当前请求 ID
func RequestID(c *gin.Context) string {
	return c.GetString(ginKeyRequestID)
}

// TraceID 返回当前链路 ID（未开启追踪时为空）
func TraceID(c *gin.Context) string {
	return c.GetString(ginKeyTraceID)
}

// Principal 返回当前调用方
func Principal(c *gin.Context) *domain.Principal {
	if v, ok := c.Get(ginKeyPrincipal); ok {
		if p, ok := v.(*domain.Principal); ok {
			return p
		}
	}
	return PrincipalFromContext(c.Request.Context())
}

// SetPrincipal 将调用方写入 gin.Context 与请求上下文
func SetPrincipal(c *gin.Context, p *domain.Principal) {
	c.Set(ginKeyPrincipal, p)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), contextKeyPrincipal, p))
}
