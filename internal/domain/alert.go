package domain

import "time"

// AlertSeverity 低库存告警级别
type AlertSeverity string

const (
	SeverityNone       AlertSeverity = ""
	SeverityLow        AlertSeverity = "low"          // <= MinStockLevel
	SeverityCritical   AlertSeverity = "critical"     // <= ReorderPoint
	SeverityOutOfStock AlertSeverity = "out_of_stock" // == 0
)

// ComputeSeverity 根据当前状态（而非变动量）计算告警级别
func ComputeSeverity(rec *StockRecord) AlertSeverity {
	switch {
	case rec.CurrentStock <= 0:
		return SeverityOutOfStock
	case rec.CurrentStock <= rec.ReorderPoint:
		return SeverityCritical
	case rec.CurrentStock <= rec.MinStockLevel:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// LowStockAlert 表示低库存告警，每个商品同一时间最多一条未处理告警
type LowStockAlert struct {
	ID           int64         `json:"id"`
	ProductID    int64         `json:"product_id"`
	CurrentStock int           `json:"current_stock"`
	Severity     AlertSeverity `json:"severity"`
	IsResolved   bool          `json:"is_resolved"`
	ResolvedBy   string        `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AlertListRequest 表示告警分页查询
type AlertListRequest struct {
	Resolved bool
	Page     int
	Limit    int
}

// AlertPage 表示告警分页结果
type AlertPage struct {
	Items []*LowStockAlert `json:"items"`
	Total int64            `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}
