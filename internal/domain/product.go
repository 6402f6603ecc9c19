package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 表示目录服务提供的商品快照，本服务只读
type Product struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Slug           string          `json:"slug"`
	SKU            string          `json:"sku"`
	Brand          string          `json:"brand"`
	Price          decimal.Decimal `json:"price"`
	Images         []string        `json:"images"`
	CategoryID     *int64          `json:"category_id"`
	TrackInventory bool            `json:"track_inventory"` // 是否参与库存扣减
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsAvailable 判断商品是否可售
func (p *Product) IsAvailable() bool {
	return p != nil && p.IsActive
}
