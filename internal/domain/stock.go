// Package domain 定义库存履约相关的业务领域模型和核心业务规则。
// 领域模型独立于外部依赖（数据库、HTTP、消息队列等）。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRecord 表示单个商品的库存台账
type StockRecord struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	CurrentStock   int             `json:"current_stock"`   // 实物库存
	ReservedStock  int             `json:"reserved_stock"`  // 已预占库存，不超过实物库存
	AvailableStock int             `json:"available_stock"` // 可售库存，由存储层随每次写入重新计算
	MinStockLevel  int             `json:"min_stock_level"`
	ReorderPoint   int             `json:"reorder_point"`
	MaxStockLevel  int             `json:"max_stock_level"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	Supplier       string          `json:"supplier"`
	Location       string          `json:"location"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available 按当前计数计算可售库存
func (s *StockRecord) Available() int {
	return s.CurrentStock - s.ReservedStock
}

// Consistent 校验 0 <= reserved <= current
func (s *StockRecord) Consistent() bool {
	return s.ReservedStock >= 0 && s.ReservedStock <= s.CurrentStock
}

// StockValue 按成本价计算库存总值
func (s *StockRecord) StockValue() decimal.Decimal {
	return s.CostPrice.Mul(decimal.NewFromInt(int64(s.CurrentStock)))
}

// MovementType 库存变动类型
type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReserved   MovementType = "reserved"
	MovementUnreserved MovementType = "unreserved"
)

// AffectsCurrentStock 判断该类型变动是否改变实物库存
func (t MovementType) AffectsCurrentStock() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment:
		return true
	}
	return false
}

// StockMovement 表示一条不可变的库存流水
// 对于 reserved/unreserved，PreviousStock/NewStock 记录的是预占库存。
type StockMovement struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"type"`
	Quantity      int          `json:"quantity"` // adjustment 可为负，其余类型恒为正
	PreviousStock int          `json:"previous_stock"`
	NewStock      int          `json:"new_stock"`
	Reason        string       `json:"reason"`
	Reference     string       `json:"reference,omitempty"` // 订单号或外部原因
	Actor         string       `json:"actor"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Delta 返回该流水对实物库存的有符号影响
func (m *StockMovement) Delta() int {
	switch m.Type {
	case MovementIn, MovementAdjustment:
		return m.Quantity
	case MovementOut:
		return -m.Quantity
	}
	return 0
}

// MovementMeta 描述一次库存变更的业务上下文，随变更写入流水
type MovementMeta struct {
	Reason    string
	Reference string
	Actor     string
}

// CreateStockRecordRequest 表示创建库存台账请求
type CreateStockRecordRequest struct {
	ProductID     int64           `json:"product_id" binding:"required"`
	CurrentStock  int             `json:"current_stock" binding:"min=0"`
	MinStockLevel int             `json:"min_stock_level" binding:"min=0"`
	ReorderPoint  int             `json:"reorder_point" binding:"min=0"`
	MaxStockLevel int             `json:"max_stock_level" binding:"min=0"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Supplier      string          `json:"supplier"`
	Location      string          `json:"location"`
}

// Validate 校验创建请求
func (r *CreateStockRecordRequest) Validate() error {
	if r.ProductID <= 0 {
		return NewValidationError("product_id", "must be positive")
	}
	if r.CurrentStock < 0 {
		return NewValidationError("current_stock", "must not be negative")
	}
	if r.MinStockLevel < 0 || r.ReorderPoint < 0 || r.MaxStockLevel < 0 {
		return NewValidationError("thresholds", "must not be negative")
	}
	if r.MaxStockLevel > 0 && r.MaxStockLevel < r.MinStockLevel {
		return NewValidationError("max_stock_level", "must not be less than min_stock_level")
	}
	if r.CostPrice.IsNegative() || r.SellingPrice.IsNegative() {
		return NewValidationError("price", "must not be negative")
	}
	return nil
}

// StockChangeRequest 表示补货或调整请求
type StockChangeRequest struct {
	Quantity int    `json:"quantity"` // 补货为正；调整可正可负
	Reason   string `json:"reason"`
}

// MovementListRequest 表示库存流水分页查询
type MovementListRequest struct {
	ProductID *int64 `json:"product_id"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
}

// Normalize 填充分页默认值并限制上限
func (r *MovementListRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = 20
	}
	if r.Limit > 100 {
		r.Limit = 100
	}
}

// Offset 返回分页偏移量
func (r *MovementListRequest) Offset() int {
	return (r.Page - 1) * r.Limit
}

// MovementPage 表示库存流水分页结果
type MovementPage struct {
	Items []*StockMovement `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}
