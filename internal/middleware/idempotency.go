package middleware

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyConfig 幂等性中间件配置
type IdempotencyConfig struct {
	// 幂等键头名称
	Header string

	// 已完成请求的响应保留时长
	TTL time.Duration

	// 处理中标记的有效期，处理器崩溃时标记到期自动释放
	LockTTL time.Duration
}

// DefaultIdempotencyConfig 默认幂等性配置
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Header:  HeaderIdempotencyKey,
		TTL:     24 * time.Hour,
		LockTTL: 30 * time.Second,
	}
}

// storedResponse 缓存中的幂等记录
type storedResponse struct {
	InFlight    bool   `json:"in_flight"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// bodyRecorder 在写出响应的同时保留一份副本
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency 幂等性中间件。
// 请求携带幂等键时，同一调用方在同一路由上的重复请求直接重放首次的响应；
// 首次请求仍在处理中时返回 409。未携带幂等键的请求不受影响。
// 5xx 与 429 响应不会被记录，客户端可以使用同一个键重试。
func Idempotency(store cache.Cache, cfg IdempotencyConfig, logger *zap.Logger) gin.HandlerFunc {
	if cfg.Header == "" {
		cfg.Header = HeaderIdempotencyKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultIdempotencyConfig().TTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultIdempotencyConfig().LockTTL
	}

	return func(c *gin.Context) {
		idemKey := c.GetHeader(cfg.Header)
		if idemKey == "" {
			c.Next()
			return
		}
		key := cache.IdempotencyKey(idempotencyScope(c), idemKey)
		ctx := c.Request.Context()

		acquired, err := store.SetNX(ctx, key, storedResponse{InFlight: true}, cfg.LockTTL)
		if err != nil {
			// 幂等存储不可用时放行
			logger.Warn("idempotency store unavailable", zap.String("request_id", RequestID(c)), zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			var stored storedResponse
			if err := store.Get(ctx, key, &stored); err == nil && !stored.InFlight {
				c.Header("Idempotent-Replayed", "true")
				c.Data(stored.Status, stored.ContentType, stored.Body)
				c.Abort()
				return
			}
			c.Abort()
			resp.Error(c.Writer, http.StatusConflict, resp.CodeDuplicateRequest,
				"a request with this idempotency key is already in progress", RequestID(c), TraceID(c))
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		// 请求上下文可能已超时，记录结果使用独立的上下文
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		status := rec.Status()
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			if err := store.Del(sctx, key); err != nil {
				logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
			}
			return
		}
		stored := storedResponse{
			Status:      status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		}
		if err := store.Set(sctx, key, stored, cfg.TTL); err != nil {
			logger.Warn("failed to store idempotent response", zap.String("key", key), zap.Error(err))
		}
	}
}

// idempotencyScope 幂等键按调用方与路由隔离
func idempotencyScope(c *gin.Context) string {
	caller := "ip:" + c.ClientIP()
	if p := Principal(c); p != nil {
		caller = fmt.Sprintf("user:%d", p.UserID)
	}
	return fmt.Sprintf("%s:%s:%s", c.Request.Method, c.FullPath(), caller)
}
