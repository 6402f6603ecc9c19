// Package mq 提供RabbitMQ生产者实现
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errProducerClosed = errors.New("producer is closed")

// Producer RabbitMQ生产者，使用发布确认模式，失败按配置重试
type Producer struct {
	cm     *ConnectionManager
	config *Config
	logger *zap.Logger

	mu     sync.Mutex
	ch     *amqp.Channel
	closed bool

	publishedCount int64
	failedCount    int64
}

// NewProducer 创建生产者
func NewProducer(cm *ConnectionManager, config *Config, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{cm: cm, config: config, logger: logger}
}

// Publish 向主交换机发布消息
func (p *Producer) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	maxAttempts := p.config.MaxRetryAttempts + 1

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.publishOnce(ctx, routingKey, msg)
		if lastErr == nil {
			atomic.AddInt64(&p.publishedCount, 1)
			return nil
		}
		if errors.Is(lastErr, errProducerClosed) {
			return lastErr
		}

		p.logger.Warn("消息发布失败",
			zap.String("exchange", p.config.Exchange),
			zap.String("routing_key", routingKey),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(lastErr))

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(p.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	atomic.AddInt64(&p.failedCount, 1)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Producer) publishOnce(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errProducerClosed
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(publishCtx, p.config.Exchange, routingKey, false, false, msg)
	if err != nil {
		p.resetChannel()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	acked, err := dc.WaitContext(publishCtx)
	if err != nil {
		p.resetChannel()
		return fmt.Errorf("publish confirmation: %w", err)
	}
	if !acked {
		return errors.New("message was nacked by broker")
	}
	return nil
}

// channel 返回处于确认模式的发布通道，必要时重新打开
func (p *Producer) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.cm.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set confirm mode: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *Producer) resetChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
}

// Stats 已发布和最终失败的消息数
func (p *Producer) Stats() (published, failed int64) {
	return atomic.LoadInt64(&p.publishedCount), atomic.LoadInt64(&p.failedCount)
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.resetChannel()
	return nil
}
