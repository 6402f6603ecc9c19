// Package api 提供订单与库存的 HTTP 处理器
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/middleware"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
)

// OrderServiceInterface 订单处理器依赖的服务
type OrderServiceInterface interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	SaveCart(ctx context.Context, userID int64, items []domain.CartItem) (*domain.Cart, error)
	Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error)
	ReserveCart(ctx context.Context, userID int64, actor string) (*domain.Reservation, error)
	ConfirmReservation(ctx context.Context, reservationID string, req *domain.CheckoutRequest) (*domain.Order, error)
	ReleaseReservation(ctx context.Context, reservationID string, userID int64, actor string) error
	RestoreOrderStock(ctx context.Context, orderNumber, actor string) (*domain.Order, error)
	ProcessOrderStockReduction(ctx context.Context, reference string, items []domain.OrderItem, actor string) error
	UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, actor string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
}

// OrderHandler 购物车、结算与订单API处理器
type OrderHandler struct {
	orders OrderServiceInterface
	logger *zap.Logger
}

// NewOrderHandler 创建订单API处理器
func NewOrderHandler(orders OrderServiceInterface, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, logger: logger}
}

type saveCartRequest struct {
	Items []domain.CartItem `json:"items"`
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// stockReductionRequest 为已在外部确认的订单补扣库存
type stockReductionRequest struct {
	Reference string `json:"reference"`
	Items     []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
}

// GetCart 获取当前用户购物车
// @Router /api/v1/cart [get]
// @Security Bearer
func (h *OrderHandler) GetCart(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	cart, err := h.orders.GetCart(c.Request.Context(), p.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, cart, middleware.RequestID(c), middleware.TraceID(c))
}

// SaveCart 覆盖保存购物车
// @Router /api/v1/cart [put]
// @Security Bearer
func (h *OrderHandler) SaveCart(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req saveCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数格式错误")
		return
	}
	cart, err := h.orders.SaveCart(c.Request.Context(), p.UserID, req.Items)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, cart, middleware.RequestID(c), middleware.TraceID(c))
}

// Checkout 结算购物车
// @Summary 结算
// @Description 逐项扣减库存并创建订单，任一商品库存不足时整单失败且不留下扣减
// @Tags 订单
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Param request body domain.CheckoutRequest true "结算请求"
// @Success 201 {object} resp.Response[domain.Order] "成功"
// @Failure 400 {object} resp.Response[any] "请求参数错误"
// @Failure 409 {object} resp.Response[any] "商品不可售或库存不足"
// @Failure 429 {object} resp.Response[any] "请求过于频繁"
// @Router /api/v1/orders/checkout [post]
// @Security Bearer
func (h *OrderHandler) Checkout(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req domain.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("参数绑定失败", zap.Error(err))
		badRequest(c, "请求参数格式错误")
		return
	}
	req.UserID = p.UserID
	req.Actor = p.Actor()

	order, err := h.orders.Checkout(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, order, middleware.RequestID(c), middleware.TraceID(c))
}

// ReserveCart 为购物车预占库存
// @Router /api/v1/orders/reservations [post]
// @Security Bearer
func (h *OrderHandler) ReserveCart(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	res, err := h.orders.ReserveCart(c.Request.Context(), p.UserID, p.Actor())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, res, middleware.RequestID(c), middleware.TraceID(c))
}

// ConfirmReservation 把预占转为订单
// @Router /api/v1/orders/reservations/{id}/confirm [post]
// @Security Bearer
func (h *OrderHandler) ConfirmReservation(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req domain.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数格式错误")
		return
	}
	req.UserID = p.UserID
	req.Actor = p.Actor()

	order, err := h.orders.ConfirmReservation(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.Created(c.Writer, order, middleware.RequestID(c), middleware.TraceID(c))
}

// ReleaseReservation 主动释放预占
// @Router /api/v1/orders/reservations/{id} [delete]
// @Security Bearer
func (h *OrderHandler) ReleaseReservation(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.orders.ReleaseReservation(c.Request.Context(), id, p.UserID, p.Actor()); err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, gin.H{"reservation_id": id, "released": true},
		middleware.RequestID(c), middleware.TraceID(c))
}

// GetOrder 查询订单，普通用户只能查看自己的订单
// @Router /api/v1/orders/{orderNumber} [get]
// @Security Bearer
func (h *OrderHandler) GetOrder(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if order.UserID != p.UserID && !p.IsAdmin() {
		writeError(c, h.logger, domain.ErrOrderNotFound)
		return
	}
	resp.OK(c.Writer, order, middleware.RequestID(c), middleware.TraceID(c))
}

// UpdateOrderStatus 管理员推进订单状态
// @Router /api/v1/orders/{orderNumber}/status [put]
// @Security Bearer
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数格式错误")
		return
	}
	actor := middleware.Principal(c).Actor()
	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("orderNumber"), req.Status, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	resp.OK(c.Writer, order, middleware.RequestID(c), middleware.TraceID(c))
}

// CancelOrder 管理员取消订单并回补库存
// @Router /api/v1/orders/{orderNumber}/cancel [post]
// @Security Bearer
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "请求参数格式错误")
			return
		}
	}
	orderNumber := c.Param("orderNumber")
	actor := middleware.Principal(c).Actor()

	order, err := h.orders.RestoreOrderStock(c.Request.Context(), orderNumber, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("订单已取消",
		zap.String("order_number", orderNumber),
		zap.String("actor", actor),
		zap.String("reason", req.Reason))
	resp.WriteJSON(c.Writer, http.StatusOK, resp.CodeOK, "cancelled", order,
		middleware.RequestID(c), middleware.TraceID(c))
}

// ReduceStock 按订单行扣减库存但不创建订单，用于迁移已确认的历史订单。
// 任一商品库存不足时已扣减的部分全部回滚。
// @Router /api/v1/admin/inventory/reductions [post]
// @Security Bearer
func (h *OrderHandler) ReduceStock(c *gin.Context) {
	var req stockReductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数格式错误")
		return
	}
	if req.Reference == "" {
		badRequest(c, "reference 不能为空")
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, TrackInventory: true})
	}
	actor := middleware.Principal(c).Actor()
	if err := h.orders.ProcessOrderStockReduction(c.Request.Context(), req.Reference, items, actor); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("库存已按订单扣减",
		zap.String("reference", req.Reference),
		zap.Int("items", len(items)),
		zap.String("actor", actor))
	resp.OK(c.Writer, gin.H{"reference": req.Reference, "items": len(items)},
		middleware.RequestID(c), middleware.TraceID(c))
}
