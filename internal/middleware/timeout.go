package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

// Timeout 为请求上下文设置截止时间，下游的数据库与缓存调用随之取消。
// 处理器未写出响应而上下文已超时时，返回统一的超时响应。
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !c.Writer.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			HandleTimeout(c)
		}
	}
}

// HandleTimeout writes the unified timeout response
func HandleTimeout(c *gin.Context) {
	c.Abort()
	resp.Error(c.Writer, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout, "request timeout", RequestID(c), TraceID(c))
}
