// Package mq 提供RabbitMQ消费者实现
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

var errDeliveriesClosed = errors.New("delivery channel closed")

// Consumer RabbitMQ消费者
//
// 处理成功或返回 NonRetryableError 时确认消息；其他失败拒绝且不重新入队，
// 由队列的死信交换机接收。进程退出导致的中断会把消息放回队列。
type Consumer struct {
	cm      *ConnectionManager
	config  *Config
	logger  *zap.Logger
	queue   string
	handler MessageHandler

	propagator propagation.TextMapPropagator
	tracer     trace.Tracer

	processedCount int64
	skippedCount   int64
	failedCount    int64
}

// NewConsumer 创建消费者
func NewConsumer(cm *ConnectionManager, config *Config, queue string, handler MessageHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		cm:         cm,
		config:     config,
		logger:     logger.With(zap.String("queue", queue)),
		queue:      queue,
		handler:    handler,
		propagator: otel.GetTextMapPropagator(),
		tracer:     otel.Tracer(tracerName),
	}
}

// Run 持续消费直到 ctx 结束，通道断开后等待重连再重新订阅
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("开始消费消息")
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info("停止消费消息")
			return nil
		}
		c.logger.Warn("消费中断，稍后重新订阅", zap.Error(err))

		select {
		case <-ctx.Done():
			c.logger.Info("停止消费消息")
			return nil
		case <-time.After(c.config.ReconnectInterval):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	ch, err := c.cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.config.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	tag := fmt.Sprintf("consumer-%s-%d", c.queue, time.Now().Unix())
	deliveries, err := ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

// handle 处理单条消息并决定确认方式
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	carrier := propagation.MapCarrier{}
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	msgCtx := c.propagator.Extract(ctx, carrier)
	msgCtx, span := c.tracer.Start(msgCtx, "process "+d.RoutingKey,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", c.queue),
			attribute.String("messaging.message.id", d.MessageId),
		))
	defer span.End()

	handleCtx, cancel := context.WithTimeout(msgCtx, c.config.ConsumeTimeout)
	defer cancel()

	start := time.Now()
	err := c.handler(handleCtx, d)
	fields := []zap.Field{
		zap.String("message_id", d.MessageId),
		zap.String("routing_key", d.RoutingKey),
		zap.Duration("duration", time.Since(start)),
	}

	switch {
	case err == nil:
		atomic.AddInt64(&c.processedCount, 1)
		c.settle(d.Ack(false), fields)
	case IsNonRetryableError(err):
		atomic.AddInt64(&c.skippedCount, 1)
		c.logger.Warn("消息无需重试，直接确认", append(fields, zap.Error(err))...)
		c.settle(d.Ack(false), fields)
	case ctx.Err() != nil:
		c.logger.Warn("消费被中断，消息重新入队", append(fields, zap.Error(err))...)
		c.settle(d.Nack(false, true), fields)
	default:
		atomic.AddInt64(&c.failedCount, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		c.logger.Error("消息处理失败，转入死信队列", append(fields, zap.Error(err))...)
		c.settle(d.Nack(false, false), fields)
	}
}

func (c *Consumer) settle(err error, fields []zap.Field) {
	if err != nil {
		c.logger.Error("消息确认失败", append(fields, zap.Error(err))...)
	}
}

// ConsumerStats 消费者统计信息
type ConsumerStats struct {
	Queue     string `json:"queue"`
	Processed int64  `json:"processed"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
}

// Stats 获取统计信息
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Queue:     c.queue,
		Processed: atomic.LoadInt64(&c.processedCount),
		Skipped:   atomic.LoadInt64(&c.skippedCount),
		Failed:    atomic.LoadInt64(&c.failedCount),
	}
}

// JSONMessageHandler 通用JSON消息处理器
func JSONMessageHandler[T any](handler func(ctx context.Context, data T, delivery amqp.Delivery) error) MessageHandler {
	return func(ctx context.Context, delivery amqp.Delivery) error {
		var data T
		if err := json.Unmarshal(delivery.Body, &data); err != nil {
			return fmt.Errorf("failed to unmarshal JSON message: %w", err)
		}
		return handler(ctx, data, delivery)
	}
}

// NonRetryableError 不可重试错误，消费者确认后丢弃
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// IsNonRetryableError 检查是否为不可重试错误
func IsNonRetryableError(err error) bool {
	var nonRetryable *NonRetryableError
	return errors.As(err, &nonRetryable)
}
