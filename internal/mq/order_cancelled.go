package mq

import (
	"context"
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

const defaultCancelActor = "mq:order.cancelled"

// StockRestorer 取消订单并回补库存
type StockRestorer interface {
	RestoreOrderStock(ctx context.Context, orderNumber, actor string) (*domain.Order, error)
}

// OrderCancelledHandler 处理上游发出的订单取消指令
//
// 订单不存在或已不可取消时确认消息，不再投递；载荷非法和其他失败进入死信队列。
func OrderCancelledHandler(restorer StockRestorer, logger *zap.Logger) MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return JSONMessageHandler(func(ctx context.Context, evt domain.OrderCancelledEvent, d amqp.Delivery) error {
		orderNumber := strings.TrimSpace(evt.OrderNumber)
		if orderNumber == "" {
			return errors.New("order_number is required")
		}
		actor := strings.TrimSpace(evt.Actor)
		if actor == "" {
			actor = defaultCancelActor
		}

		order, err := restorer.RestoreOrderStock(ctx, orderNumber, actor)
		switch {
		case err == nil:
			logger.Info("订单已取消并回补库存",
				zap.String("order_number", orderNumber),
				zap.String("reason", evt.Reason),
				zap.String("actor", actor),
				zap.String("status", string(order.Status)))
			return nil
		case errors.Is(err, domain.ErrInvalidStatusTransition), domain.IsNotFound(err):
			return &NonRetryableError{Err: err}
		default:
			return err
		}
	})
}
