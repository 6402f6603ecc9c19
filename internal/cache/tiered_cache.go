package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings 熔断器参数
type BreakerSettings struct {
	MaxRequests      uint32        // 半开状态允许通过的请求数
	Interval         time.Duration // 闭合状态下计数清零周期
	Timeout          time.Duration // 打开状态持续时间
	FailureThreshold uint32        // 连续失败多少次后打开
}

// TieredCache 两级缓存：主缓存（Redis）经熔断器访问，失败或熔断时降级到备用缓存（内存）。
// 删除操作总是同时作用于两级，避免降级期间写入的数据在恢复后被读到。
type TieredCache struct {
	primary  Cache
	fallback Cache
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewTieredCache 创建两级缓存
func NewTieredCache(primary, fallback Cache, settings BreakerSettings, logger *zap.Logger) *TieredCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-primary",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsMiss(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &TieredCache{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

// State 返回熔断器当前状态
func (t *TieredCache) State() gobreaker.State {
	return t.breaker.State()
}

func (t *TieredCache) callPrimary(fn func() error) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// degraded 判断是否应当降级到备用缓存
func degraded(err error) bool {
	return err != nil && !IsMiss(err)
}

// Get 优先读主缓存，主缓存不可用时读备用缓存
func (t *TieredCache) Get(ctx context.Context, key string, dest interface{}) error {
	err := t.callPrimary(func() error { return t.primary.Get(ctx, key, dest) })
	if !degraded(err) {
		return err
	}
	t.logFallback("get", key, err)
	return t.fallback.Get(ctx, key, dest)
}

// Set 写主缓存，主缓存不可用时写备用缓存
func (t *TieredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := t.callPrimary(func() error { return t.primary.Set(ctx, key, value, expiration) })
	if err == nil {
		return nil
	}
	t.logFallback("set", key, err)
	return t.fallback.Set(ctx, key, value, expiration)
}

// Del 两级同时删除
func (t *TieredCache) Del(ctx context.Context, keys ...string) error {
	fbErr := t.fallback.Del(ctx, keys...)
	err := t.callPrimary(func() error { return t.primary.Del(ctx, keys...) })
	return errors.Join(err, fbErr)
}

// DelPattern 两级同时按模式删除
func (t *TieredCache) DelPattern(ctx context.Context, pattern string) error {
	fbErr := t.fallback.DelPattern(ctx, pattern)
	err := t.callPrimary(func() error { return t.primary.DelPattern(ctx, pattern) })
	return errors.Join(err, fbErr)
}

// Exists 检查键是否存在
func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := t.callPrimary(func() error {
		var innerErr error
		exists, innerErr = t.primary.Exists(ctx, key)
		return innerErr
	})
	if err == nil {
		return exists, nil
	}
	t.logFallback("exists", key, err)
	return t.fallback.Exists(ctx, key)
}

// SetNX 仅当键不存在时设置
func (t *TieredCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	var ok bool
	err := t.callPrimary(func() error {
		var innerErr error
		ok, innerErr = t.primary.SetNX(ctx, key, value, expiration)
		return innerErr
	})
	if err == nil {
		return ok, nil
	}
	t.logFallback("setnx", key, err)
	return t.fallback.SetNX(ctx, key, value, expiration)
}

// Ping 只要有一级可用即视为可用
func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.callPrimary(func() error { return t.primary.Ping(ctx) }); err != nil {
		return t.fallback.Ping(ctx)
	}
	return nil
}

// Close 关闭两级缓存
func (t *TieredCache) Close() error {
	return errors.Join(t.primary.Close(), t.fallback.Close())
}

func (t *TieredCache) logFallback(op, key string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		t.logger.Debug("cache breaker open, using fallback", zap.String("op", op), zap.String("key", key))
		return
	}
	t.logger.Warn("primary cache failed, using fallback", zap.String("op", op), zap.String("key", key), zap.Error(err))
}
