package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter 进程内令牌桶，用于未部署 Redis 的单实例环境
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter(config Config) *MemoryLimiter {
	config.normalize()
	return &MemoryLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(config.Window / time.Duration(config.Rate)),
		burst:    int(config.Burst),
		now:      time.Now,
	}
}

func (m *MemoryLimiter) get(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = lim
	}
	return lim
}

// Allow 检查是否允许请求通过
func (m *MemoryLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return m.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过
func (m *MemoryLimiter) AllowN(_ context.Context, key string, n int64) (*LimitResult, error) {
	lim := m.get(key)
	now := m.now()
	r := lim.ReserveN(now, int(n))
	if !r.OK() {
		return &LimitResult{Allowed: false, Remaining: int64(lim.TokensAt(now))}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &LimitResult{Allowed: false, Remaining: int64(lim.TokensAt(now)), RetryAfter: delay}, nil
	}
	return &LimitResult{Allowed: true, Remaining: int64(lim.TokensAt(now))}, nil
}

// Reset 重置限流状态
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.limiters, key)
	m.mu.Unlock()
	return nil
}
