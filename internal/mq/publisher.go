package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

const tracerName = "github.com/MorseWayne/shop_fulfillment/internal/mq"

// Sender 按路由键发送一条消息，Producer 是生产实现
type Sender interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// Publisher 把领域事件编码为 JSON 发布到主交换机，并在消息头中注入链路上下文
type Publisher struct {
	sender     Sender
	appID      string
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
	now        func() time.Time
}

// NewPublisher 创建事件发布器
func NewPublisher(sender Sender, appID string) *Publisher {
	return &Publisher{
		sender:     sender,
		appID:      appID,
		propagator: otel.GetTextMapPropagator(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

func (p *Publisher) PublishStockMovement(ctx context.Context, evt *domain.StockMovementEvent) error {
	return p.publish(ctx, RoutingKeyStockMovement, evt)
}

func (p *Publisher) PublishLowStock(ctx context.Context, evt *domain.LowStockEvent) error {
	return p.publish(ctx, RoutingKeyStockLow, evt)
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, evt *domain.OrderCreatedEvent) error {
	return p.publish(ctx, RoutingKeyOrderCreated, evt)
}

// PublishOrderCancelled 发布订单取消指令，主要供测试和运维脚本使用
func (p *Publisher) PublishOrderCancelled(ctx context.Context, evt *domain.OrderCancelledEvent) error {
	return p.publish(ctx, RoutingKeyOrderCancelled, evt)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}

	ctx, span := p.tracer.Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		))
	defer span.End()

	carrier := propagation.MapCarrier{}
	p.propagator.Inject(ctx, carrier)
	headers := amqp.Table{}
	for k, v := range carrier {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    p.now().UTC(),
		Type:         routingKey,
		AppId:        p.appID,
		Headers:      headers,
		Body:         body,
	}
	if err := p.sender.Publish(ctx, routingKey, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}
