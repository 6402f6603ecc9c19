package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/middleware"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

// StockServiceInterface 库存处理器依赖的台账服务
type StockServiceInterface interface {
	CreateStockRecord(ctx context.Context, req *domain.CreateStockRecordRequest, actor string) (*domain.StockRecord, error)
	GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error)
	Restock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error)
	AdjustStock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error)
}

// StatsServiceInterface 统计与流水查询
type StatsServiceInterface interface {
	GetInventoryStats(ctx context.Context, window time.Duration) (*domain.InventoryStats, error)
	GetStockMovements(ctx context.Context, req *domain.MovementListRequest) (*domain.MovementPage, error)
	GetLowStockAlerts(ctx context.Context, req *domain.AlertListRequest) (*domain.AlertPage, error)
	ReplayStock(ctx context.Context, productID int64) (*domain.LedgerCheck, error)
}

// AlertResolver 处理低库存告警
type AlertResolver interface {
	Resolve(ctx context.Context, alertID int64, resolvedBy string) error
}

// InventoryHandler 库存API处理器
type InventoryHandler struct {
	stock  StockServiceInterface
	stats  StatsServiceInterface
	alerts AlertResolver
	logger *zap.Logger
}

// NewInventoryHandler 创建库存API处理器
func NewInventoryHandler(stock StockServiceInterface, stats StatsServiceInterface, alerts AlertResolver, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{stock: stock, stats: stats, alerts: alerts, logger: logger}
}

// GetStock 查询商品库存
// @Summary 查询库存
// @Tags 库存
// @Produce json
// @Param productId path int true "商品ID"
// @Success 200 {object} resp.Response[domain.StockRecord] "成功"
// @Failure 404 {object} resp.Response[any] "库存记录不存在"
// @Router /api/v1/inventory/{productId} [get]
func (h *InventoryHandler) GetStock(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	rec, err := h.stock.GetStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, rec, middleware.RequestID(c), middleware.TraceID(c))
}

// CreateStockRecord 为商品建立库存记录
// @Router /api/v1/admin/inventory [post]
// @Security Bearer
func (h *InventoryHandler) CreateStockRecord(c *gin.Context) {
	var req domain.CreateStockRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("参数绑定失败", zap.Error(err))
		badRequest(c, "请求参数格式错误")
		return
	}
	rec, err := h.stock.CreateStockRecord(c.Request.Context(), &req, middleware.Principal(c).Actor())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, rec, middleware.RequestID(c), middleware.TraceID(c))
}

// Restock 补货入库
// @Router /api/v1/admin/inventory/{productId}/restock [post]
// @Security Bearer
func (h *InventoryHandler) Restock(c *gin.Context) {
	h.change(c, h.stock.Restock)
}

// AdjustStock 盘点调整
// @Router /api/v1/admin/inventory/{productId}/adjust [post]
// @Security Bearer
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	h.change(c, h.stock.AdjustStock)
}

type stockChangeFunc func(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error)

func (h *InventoryHandler) change(c *gin.Context, fn stockChangeFunc) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req domain.StockChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数格式错误")
		return
	}
	rec, err := fn(c.Request.Context(), productID, &req, middleware.Principal(c).Actor())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, rec, middleware.RequestID(c), middleware.TraceID(c))
}

// GetInventoryStats 库存汇总统计，window 为出库排行的统计窗口
// @Router /api/v1/admin/inventory/stats [get]
// @Security Bearer
func (h *InventoryHandler) GetInventoryStats(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, "invalid window")
			return
		}
		window = d
	}
	stats, err := h.stats.GetInventoryStats(c.Request.Context(), window)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, stats, middleware.RequestID(c), middleware.TraceID(c))
}

// GetStockMovements 分页查询库存流水
// @Router /api/v1/admin/inventory/movements [get]
// @Security Bearer
func (h *InventoryHandler) GetStockMovements(c *gin.Context) {
	req := &domain.MovementListRequest{}
	if raw := c.Query("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			badRequest(c, "invalid product_id")
			return
		}
		req.ProductID = &id
	}
	var ok bool
	if req.Page, ok = queryInt(c, "page", 1); !ok {
		return
	}
	if req.Limit, ok = queryInt(c, "limit", 20); !ok {
		return
	}

	page, err := h.stats.GetStockMovements(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, page, middleware.RequestID(c), middleware.TraceID(c))
}

// GetLowStockAlerts 分页查询低库存告警
// @Router /api/v1/admin/inventory/alerts [get]
// @Security Bearer
func (h *InventoryHandler) GetLowStockAlerts(c *gin.Context) {
	req := &domain.AlertListRequest{}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "invalid resolved")
			return
		}
		req.Resolved = resolved
	}
	var ok bool
	if req.Page, ok = queryInt(c, "page", 1); !ok {
		return
	}
	if req.Limit, ok = queryInt(c, "limit", 20); !ok {
		return
	}

	page, err := h.stats.GetLowStockAlerts(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, page, middleware.RequestID(c), middleware.TraceID(c))
}

// ResolveAlert 处理告警
// @Router /api/v1/admin/inventory/alerts/{id}/resolve [post]
// @Security Bearer
func (h *InventoryHandler) ResolveAlert(c *gin.Context) {
	alertID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.alerts.Resolve(c.Request.Context(), alertID, middleware.Principal(c).Actor()); err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, gin.H{"alert_id": alertID, "resolved": true},
		middleware.RequestID(c), middleware.TraceID(c))
}

// ReplayStock 回放流水校验库存守恒
// @Router /api/v1/admin/inventory/{productId}/ledger [get]
// @Security Bearer
func (h *InventoryHandler) ReplayStock(c *gin.Context) {
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	check, err := h.stats.ReplayStock(c.Request.Context(), productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !check.Consistent {
		h.logger.Warn("库存台账与流水不一致",
			zap.Int64("product_id", productID),
			zap.Int("recorded", check.Recorded),
			zap.Int("replayed", check.Replayed))
	}
	resp.OK(c.Writer, check, middleware.RequestID(c), middleware.TraceID(c))
}
