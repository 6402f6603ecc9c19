package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

// Recovery captures panics and responds with a structured error.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", RequestID(c)),
					zap.ByteString("stack", debug.Stack()))
				c.Abort()
				resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError, "internal server error", RequestID(c), TraceID(c))
			}
		}()
		c.Next()
	}
}
