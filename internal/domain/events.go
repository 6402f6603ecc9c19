package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockMovementEvent 库存变更事件，供下游同步可售库存
type StockMovementEvent struct {
	ProductID      int64        `json:"product_id"`
	Type           MovementType `json:"type"`
	Quantity       int          `json:"quantity"`
	CurrentStock   int          `json:"current_stock"`
	ReservedStock  int          `json:"reserved_stock"`
	AvailableStock int          `json:"available_stock"`
	Reference      string       `json:"reference,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// LowStockEvent 新建低库存告警时发布
type LowStockEvent struct {
	AlertID      int64         `json:"alert_id"`
	ProductID    int64         `json:"product_id"`
	CurrentStock int           `json:"current_stock"`
	Severity     AlertSeverity `json:"severity"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// OrderCreatedEvent 订单创建事件
type OrderCreatedEvent struct {
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	Status      OrderStatus     `json:"status"`
	Total       decimal.Decimal `json:"total"`
	ItemCount   int             `json:"item_count"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// OrderCancelledEvent 上游（支付、客服）发出的取消指令
type OrderCancelledEvent struct {
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
	Actor       string `json:"actor"`
}
