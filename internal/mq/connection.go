// Package mq 提供RabbitMQ连接管理
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

// ConnectionState 连接状态
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected 当前没有可用连接
var ErrNotConnected = errors.New("rabbitmq: not connected")

// ConnectionManager RabbitMQ连接管理器，连接意外断开后按配置自动重连
type ConnectionManager struct {
	config *Config
	logger *zap.Logger

	mu    sync.RWMutex
	conn  *amqp.Connection
	state int32

	stopCh         chan struct{}
	closeOnce      sync.Once
	reconnectCount int32
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(config *Config, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		config: config,
		logger: logger,
		state:  int32(StateDisconnected),
		stopCh: make(chan struct{}),
	}
}

// Connect 建立连接
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&cm.state, int32(StateDisconnected), int32(StateConnecting)) {
		return fmt.Errorf("connection is already in progress or connected")
	}

	if err := cm.dial(ctx); err != nil {
		atomic.StoreInt32(&cm.state, int32(StateDisconnected))
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	cm.logger.Info("RabbitMQ连接成功")
	go cm.monitorConnection()
	return nil
}

func (cm *ConnectionManager) dial(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := amqp.DialConfig(cm.config.URL, amqp.Config{
		Heartbeat: cm.config.HeartbeatInterval,
		Locale:    "en_US",
	})
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.conn = conn
	cm.mu.Unlock()
	atomic.StoreInt32(&cm.state, int32(StateConnected))
	return nil
}

// Channel 在当前连接上打开一个新通道，由调用方负责关闭
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	cm.mu.RLock()
	conn := cm.conn
	cm.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// IsConnected 检查是否已连接
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// State 获取连接状态
func (cm *ConnectionManager) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&cm.state))
}

// ReconnectCount 累计重连次数
func (cm *ConnectionManager) ReconnectCount() int {
	return int(atomic.LoadInt32(&cm.reconnectCount))
}

// Close 关闭连接并停止重连
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		atomic.StoreInt32(&cm.state, int32(StateClosed))
		close(cm.stopCh)

		cm.mu.Lock()
		defer cm.mu.Unlock()
		if cm.conn != nil {
			err = cm.conn.Close()
			cm.conn = nil
		}
		cm.logger.Info("关闭RabbitMQ连接")
	})
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// monitorConnection 监听连接关闭事件
func (cm *ConnectionManager) monitorConnection() {
	cm.mu.RLock()
	conn := cm.conn
	cm.mu.RUnlock()
	if conn == nil {
		return
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err, ok := <-closeCh:
		if ok && err != nil {
			cm.logger.Error("RabbitMQ连接意外关闭", zap.Error(err))
			cm.handleDisconnection()
		}
	case <-cm.stopCh:
	}
}

func (cm *ConnectionManager) handleDisconnection() {
	if !atomic.CompareAndSwapInt32(&cm.state, int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	go cm.reconnect()
}

// reconnect 重连逻辑
func (cm *ConnectionManager) reconnect() {
	maxAttempts := cm.config.MaxReconnectAttempts
	for attempt := 1; ; attempt++ {
		select {
		case <-cm.stopCh:
			return
		case <-time.After(cm.config.ReconnectInterval):
		}

		atomic.AddInt32(&cm.reconnectCount, 1)
		cm.logger.Info("尝试重连RabbitMQ", zap.Int("attempt", attempt))

		err := cm.dial(context.Background())
		if err == nil {
			cm.logger.Info("RabbitMQ重连成功", zap.Int("attempts", attempt))
			go cm.monitorConnection()
			return
		}
		cm.logger.Error("RabbitMQ重连失败", zap.Error(err), zap.Int("attempt", attempt))

		if maxAttempts > 0 && attempt >= maxAttempts {
			cm.logger.Error("RabbitMQ重连失败，达到最大重试次数", zap.Int("max_attempts", maxAttempts))
			atomic.CompareAndSwapInt32(&cm.state, int32(StateReconnecting), int32(StateDisconnected))
			return
		}
	}
}
