// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/api"
	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/limiter"
	"github.com/MorseWayne/shop_fulfillment/internal/middleware"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck 检查一个依赖是否可用
type HealthCheck func(ctx context.Context) error

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	OrderHandler     *api.OrderHandler
	InventoryHandler *api.InventoryHandler
	TokenValidator   middleware.TokenValidator
	CheckoutLimiter  limiter.Limiter // 为 nil 时不限流
	IdempotencyStore cache.Cache     // 为 nil 时不做幂等
	HealthChecks     map[string]HealthCheck
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine  *gin.Engine
	deps    *Dependencies
	logger  *zap.Logger
	version string
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg
	r.version = cfg.App.Version

	r.setupMiddleware(cfg)
	r.setupRoutes()

	return r.engine
}

// setupMiddleware 设置 Gin 中间件
func (r *GinRouter) setupMiddleware(cfg *config.Config) {
	r.engine.Use(
		middleware.RequestIDMiddleware(),
		middleware.Tracing(),
		middleware.AccessLog(r.logger),
		middleware.Recovery(r.logger),
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
		}),
	)
	if cfg.App.RequestTimeout > 0 {
		r.engine.Use(middleware.Timeout(cfg.App.RequestTimeout))
	}
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)

	auth := middleware.Auth(r.deps.TokenValidator, r.logger)
	admin := middleware.RequireAdmin(r.logger)
	orders, inventory := r.deps.OrderHandler, r.deps.InventoryHandler

	v1 := r.engine.Group("/api/v1")
	{
		// 公开接口
		v1.GET("/inventory/:productId", inventory.GetStock)

		// 购物车与订单（需要认证）
		user := v1.Group("", auth)
		{
			user.GET("/cart", orders.GetCart)
			user.PUT("/cart", orders.SaveCart)

			user.POST("/orders/checkout", append(r.checkoutGuards(), orders.Checkout)...)
			user.POST("/orders/reservations", orders.ReserveCart)
			user.POST("/orders/reservations/:id/confirm", orders.ConfirmReservation)
			user.DELETE("/orders/reservations/:id", orders.ReleaseReservation)
			user.GET("/orders/:orderNumber", orders.GetOrder)
		}

		// 订单运维（需要管理员权限）
		adminOrders := v1.Group("/orders", auth, admin)
		{
			adminOrders.PUT("/:orderNumber/status", orders.UpdateOrderStatus)
			adminOrders.POST("/:orderNumber/cancel", orders.CancelOrder)
		}

		// 库存管理
		adminInventory := v1.Group("/admin/inventory", auth, admin)
		{
			adminInventory.POST("", inventory.CreateStockRecord)
			adminInventory.POST("/reductions", orders.ReduceStock)
			adminInventory.POST("/:productId/restock", inventory.Restock)
			adminInventory.POST("/:productId/adjust", inventory.AdjustStock)
			adminInventory.GET("/:productId/ledger", inventory.ReplayStock)
			adminInventory.GET("/stats", inventory.GetInventoryStats)
			adminInventory.GET("/movements", inventory.GetStockMovements)
			adminInventory.GET("/alerts", inventory.GetLowStockAlerts)
			adminInventory.POST("/alerts/:id/resolve", inventory.ResolveAlert)
		}
	}
}

// checkoutGuards 结算接口的限流与幂等中间件，先限流再占用幂等键
func (r *GinRouter) checkoutGuards() []gin.HandlerFunc {
	var guards []gin.HandlerFunc
	if r.deps.CheckoutLimiter != nil {
		guards = append(guards, limiter.CheckoutRateLimitMiddleware(r.deps.CheckoutLimiter, r.logger))
	}
	if r.deps.IdempotencyStore != nil {
		guards = append(guards, middleware.Idempotency(r.deps.IdempotencyStore, middleware.DefaultIdempotencyConfig(), r.logger))
	}
	return guards
}

// healthCheck 健康检查处理器，任一依赖不可用时返回 503
func (r *GinRouter) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(r.deps.HealthChecks))
	for name := range r.deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, httpStatus, code := "ok", http.StatusOK, resp.CodeOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := r.deps.HealthChecks[name](ctx); err != nil {
			r.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status, httpStatus, code = "degraded", http.StatusServiceUnavailable, resp.CodeInternalError
			continue
		}
		checks[name] = "ok"
	}

	resp.WriteJSON(c.Writer, httpStatus, code, status, gin.H{
		"status":  status,
		"version": r.version,
		"checks":  checks,
	}, middleware.RequestID(c), middleware.TraceID(c))
}
