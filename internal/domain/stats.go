package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockAggregate 库存台账聚合结果
type StockAggregate struct {
	TotalProducts      int64           `json:"total_products"`
	TotalStock         int64           `json:"total_stock"`
	TotalReservedStock int64           `json:"total_reserved_stock"`
	TotalStockValue    decimal.Decimal `json:"total_stock_value"`
	LowStockProducts   int64           `json:"low_stock_products"`
	OutOfStockProducts int64           `json:"out_of_stock_products"`
}

// TopMover 窗口期内出库量排名
type TopMover struct {
	ProductID   int64 `json:"product_id"`
	QuantityOut int64 `json:"quantity_out"`
	Movements   int64 `json:"movements"`
}

// InventoryStats 运营看板所需的库存统计
type InventoryStats struct {
	StockAggregate
	UnresolvedAlerts int64       `json:"unresolved_alerts"`
	TopMovers        []*TopMover `json:"top_movers"`
	WindowStart      time.Time   `json:"window_start"`
	GeneratedAt      time.Time   `json:"generated_at"`
}

// LedgerCheck 回放流水校验守恒：当前库存 = Σin - Σout + Σadjustment
type LedgerCheck struct {
	ProductID  int64 `json:"product_id"`
	Recorded   int   `json:"recorded"`
	Replayed   int   `json:"replayed"`
	Consistent bool  `json:"consistent"`
}
