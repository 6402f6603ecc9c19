package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
}

// Valid 判断状态值是否合法
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo 判断状态流转是否合法
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// PaymentMethod 支付方式
type PaymentMethod string

const (
	PaymentCOD      PaymentMethod = "cod"      // 货到付款
	PaymentInstant  PaymentMethod = "instant"  // 即时支付
	PaymentRedirect PaymentMethod = "redirect" // 跳转支付，异步回调确认
)

// DeliveryArea 配送区域
type DeliveryArea string

const (
	DeliveryNear DeliveryArea = "near"
	DeliveryFar  DeliveryArea = "far"
)

// Valid 判断配送区域是否合法
func (a DeliveryArea) Valid() bool {
	return a == DeliveryNear || a == DeliveryFar
}

// PaymentInfo 订单支付信息
type PaymentInfo struct {
	Method PaymentMethod `json:"method"`
	Status PaymentStatus `json:"status"`
}

// Order 表示一次成功结算产生的订单，创建后只通过状态流转修改
type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	Items         []OrderItem     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Shipping      decimal.Decimal `json:"shipping"`
	Total         decimal.Decimal `json:"total"`
	DeliveryArea  DeliveryArea    `json:"delivery_area"`
	Status        OrderStatus     `json:"status"`
	PaymentInfo   PaymentInfo     `json:"payment_info"`
	ReservationID string          `json:"reservation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// OrderItem 下单时刻的商品快照，不随目录变化
type OrderItem struct {
	ProductID      int64           `json:"product_id"`
	Title          string          `json:"title"`
	SKU            string          `json:"sku"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int             `json:"quantity"`
	TrackInventory bool            `json:"track_inventory"`
}

// LineTotal 行金额
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Subtotal 计算订单行合计
func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// NewOrderNumber 生成全局唯一的订单号，形如 ORD-20251018-1A2B3C4D
func NewOrderNumber(now time.Time) string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), strings.ToUpper(id[:8]))
}

// CartItem 购物车中的一项
type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Cart 用户购物车
type Cart struct {
	UserID int64      `json:"user_id"`
	Items  []CartItem `json:"items"`
}

// NormalizeCartItems 校验并合并重复商品，保持首次出现的顺序
func NormalizeCartItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, NewValidationError("items", "cart is empty")
	}
	index := make(map[int64]int, len(items))
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID <= 0 {
			return nil, NewValidationError("product_id", "must be positive")
		}
		if it.Quantity < 1 {
			return nil, NewValidationError("quantity", fmt.Sprintf("product %d: quantity must be at least 1", it.ProductID))
		}
		if pos, ok := index[it.ProductID]; ok {
			out[pos].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// Reservation 预占记录，保存在缓存中，预占数量本身只记在库存台账里
type Reservation struct {
	ID        string      `json:"id"`
	UserID    int64       `json:"user_id"`
	Items     []OrderItem `json:"items"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// CheckoutRequest 表示结算请求
type CheckoutRequest struct {
	UserID        int64         `json:"-"`
	Actor         string        `json:"-"`
	DeliveryArea  DeliveryArea  `json:"delivery_area"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}

// Validate 校验结算请求
func (r *CheckoutRequest) Validate() error {
	if r.UserID <= 0 {
		return NewValidationError("user_id", "must be positive")
	}
	if !r.DeliveryArea.Valid() {
		return NewValidationError("delivery_area", fmt.Sprintf("unknown delivery area %q", r.DeliveryArea))
	}
	switch r.PaymentMethod {
	case "":
		r.PaymentMethod = PaymentCOD
	case PaymentCOD, PaymentInstant, PaymentRedirect:
	default:
		return NewValidationError("payment_method", fmt.Sprintf("unknown payment method %q", r.PaymentMethod))
	}
	return nil
}

// UpdateOrderStatusRequest 表示订单状态更新请求
type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status"`
}
