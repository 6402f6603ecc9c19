package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// ShippingPolicy 运费策略：满额包邮，否则按区域收取固定运费
type ShippingPolicy struct {
	NearFee       decimal.Decimal
	FarFee        decimal.Decimal
	FreeThreshold decimal.Decimal
}

// NewShippingPolicy 从配置创建运费策略
func NewShippingPolicy(cfg config.ShippingConfig) ShippingPolicy {
	return ShippingPolicy{
		NearFee:       cfg.NearFee,
		FarFee:        cfg.FarFee,
		FreeThreshold: cfg.FreeThreshold,
	}
}

// Fee 计算运费
func (p ShippingPolicy) Fee(area domain.DeliveryArea, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var fee decimal.Decimal
	switch area {
	case domain.DeliveryNear:
		fee = p.NearFee
	case domain.DeliveryFar:
		fee = p.FarFee
	default:
		return decimal.Zero, domain.NewValidationError("delivery_area", fmt.Sprintf("unknown delivery area %q", area))
	}
	if subtotal.GreaterThanOrEqual(p.FreeThreshold) {
		return decimal.Zero, nil
	}
	return fee, nil
}
