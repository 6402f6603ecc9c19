package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// topologyChannel 声明拓扑所需的通道方法，*amqp.Channel 满足该接口
type topologyChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// SetupTopology 打开临时通道并声明交换机、队列和绑定
func SetupTopology(cm *ConnectionManager, cfg *Config) error {
	ch, err := cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return DeclareTopology(ch, cfg)
}

// DeclareTopology 声明主交换机、死信交换机以及订单取消队列，重复声明是幂等的
func DeclareTopology(ch topologyChannel, cfg *Config) error {
	for _, name := range []string{cfg.Exchange, cfg.DLXExchange} {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}

	queues := []struct {
		name     string
		exchange string
		key      string
		args     amqp.Table
	}{
		{
			name:     QueueOrderCancelled,
			exchange: cfg.Exchange,
			key:      RoutingKeyOrderCancelled,
			args:     amqp.Table{"x-dead-letter-exchange": cfg.DLXExchange},
		},
		{
			name:     QueueOrderCancelledDLQ,
			exchange: cfg.DLXExchange,
			key:      RoutingKeyOrderCancelled,
		},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.key, q.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q.name, err)
		}
	}
	return nil
}
