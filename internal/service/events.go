package service

import (
	"context"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// EventPublisher 领域事件发布接口，发布失败只记录日志，不影响主流程
type EventPublisher interface {
	PublishStockMovement(ctx context.Context, evt *domain.StockMovementEvent) error
	PublishLowStock(ctx context.Context, evt *domain.LowStockEvent) error
	PublishOrderCreated(ctx context.Context, evt *domain.OrderCreatedEvent) error
}

// NopPublisher 不发布任何事件，用于关闭消息队列的部署
type NopPublisher struct{}

func (NopPublisher) PublishStockMovement(context.Context, *domain.StockMovementEvent) error {
	return nil
}

func (NopPublisher) PublishLowStock(context.Context, *domain.LowStockEvent) error { return nil }

func (NopPublisher) PublishOrderCreated(context.Context, *domain.OrderCreatedEvent) error {
	return nil
}
