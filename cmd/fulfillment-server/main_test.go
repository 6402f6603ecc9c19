package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/config"
	"github.com/MorseWayne/shop_fulfillment/internal/limiter"
	"github.com/MorseWayne/shop_fulfillment/internal/service"
)

func TestInitCache(t *testing.T) {
	lg := zap.NewNop()

	tests := []struct {
		name    string
		cfg     config.CacheConfig
		wantNil bool
		check   func(t *testing.T, c cache.Cache)
	}{
		{
			name: "disabled",
			cfg:  config.CacheConfig{Enabled: false},
			check: func(t *testing.T, c cache.Cache) {
				assert.IsType(t, &cache.NullCache{}, c)
			},
		},
		{
			name: "memory",
			cfg:  config.CacheConfig{Enabled: true, Type: "memory"},
			check: func(t *testing.T, c cache.Cache) {
				assert.IsType(t, &cache.MemoryCache{}, c)
			},
		},
		{
			name: "unknown type falls back to memory",
			cfg:  config.CacheConfig{Enabled: true, Type: "memcached"},
			check: func(t *testing.T, c cache.Cache) {
				assert.IsType(t, &cache.MemoryCache{}, c)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Cache: tt.cfg}
			c, client := initCache(cfg, lg)
			defer c.Close()
			assert.Nil(t, client)
			tt.check(t, c)
		})
	}
}

func TestInitCache_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Cache: config.CacheConfig{Enabled: true, Type: "tiered", TTL: time.Minute},
		Redis: config.RedisConfig{Host: mr.Host(), Port: portOf(t, mr)},
		Breaker: config.BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          time.Second,
			FailureThreshold: 3,
		},
	}

	c, client := initCache(cfg, zap.NewNop())
	defer c.Close()

	require.NotNil(t, client)
	assert.IsType(t, &cache.TieredCache{}, c)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestInitLimiter(t *testing.T) {
	lg := zap.NewNop()
	enabled := config.RateLimitConfig{Enabled: true, Rate: 5, Window: time.Second, Burst: 10}

	assert.Nil(t, initLimiter(&config.Config{}, nil, lg))

	mem := initLimiter(&config.Config{RateLimit: enabled}, nil, lg)
	assert.IsType(t, &limiter.MemoryLimiter{}, mem)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	tb := initLimiter(&config.Config{RateLimit: enabled}, client, lg)
	assert.IsType(t, &limiter.TokenBucketLimiter{}, tb)

	res, err := tb.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterConfig(t *testing.T) {
	lc := limiterConfig(config.RateLimitConfig{Rate: 3, Window: time.Minute, Burst: 6})
	assert.Equal(t, int64(3), lc.Rate)
	assert.Equal(t, int64(6), lc.Burst)
	assert.Equal(t, time.Minute, lc.Window)
	assert.Equal(t, "ratelimit:checkout", lc.KeyPrefix)
}

type sweepingOrders struct {
	service.OrderService
	calls atomic.Int32
}

func (s *sweepingOrders) ReleaseExpiredReservations(_ context.Context, _ time.Time, limit int) (int, error) {
	s.calls.Add(1)
	if limit != sweepBatchSize {
		return 0, nil
	}
	return 1, nil
}

func TestRunReservationSweeper(t *testing.T) {
	orders := &sweepingOrders{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runReservationSweeper(ctx, orders, 5*time.Millisecond, zap.NewNop()) }()

	require.Eventually(t, func() bool { return orders.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func portOf(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	var port int
	_, err := fmt.Sscanf(mr.Port(), "%d", &port)
	require.NoError(t, err)
	return port
}
