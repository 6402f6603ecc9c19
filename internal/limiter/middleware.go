package limiter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/middleware"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	// 限流器
	Limiter Limiter

	// Key生成函数
	KeyGenerator func(*gin.Context) string

	// 限流检查超时
	Timeout time.Duration

	Logger *zap.Logger
}

// UserKeyGenerator 优先按调用方限流，未认证时按 IP
func UserKeyGenerator(scope string) func(*gin.Context) string {
	return func(c *gin.Context) string {
		if p := middleware.Principal(c); p != nil {
			return fmt.Sprintf("%s:user:%d", scope, p.UserID)
		}
		return fmt.Sprintf("%s:ip:%s", scope, c.ClientIP())
	}
}

// RateLimitMiddleware 创建限流中间件。
// 限流器本身出错时放行请求并记录日志。
func RateLimitMiddleware(config MiddlewareConfig) gin.HandlerFunc {
	if config.KeyGenerator == nil {
		config.KeyGenerator = UserKeyGenerator("global")
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := config.KeyGenerator(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		result, err := config.Limiter.Allow(ctx, key)
		cancel()
		if err != nil {
			config.Logger.Warn("rate limiter unavailable",
				zap.String("key", key),
				zap.String("request_id", middleware.RequestID(c)),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header(HeaderRemaining, strconv.FormatInt(result.Remaining, 10))
		if !result.Allowed {
			if result.RetryAfter > 0 {
				secs := int64((result.RetryAfter + time.Second - 1) / time.Second)
				c.Header(HeaderRetryAfter, strconv.FormatInt(secs, 10))
			}
			c.Abort()
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeTooManyRequests,
				"too many requests, please retry later", middleware.RequestID(c), middleware.TraceID(c))
			return
		}
		c.Next()
	}
}

// CheckoutRateLimitMiddleware 下单接口限流
func CheckoutRateLimitMiddleware(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	return RateLimitMiddleware(MiddlewareConfig{
		Limiter:      l,
		KeyGenerator: UserKeyGenerator("checkout"),
		Logger:       logger,
	})
}
