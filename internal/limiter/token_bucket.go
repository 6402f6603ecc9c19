package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 基于 Redis 的令牌桶限流器，多个实例共享同一个桶
type TokenBucketLimiter struct {
	client redis.Cmdable
	config Config
	now    func() time.Time
}

// NewTokenBucketLimiter 创建令牌桶限流器
func NewTokenBucketLimiter(client redis.Cmdable, config Config) *TokenBucketLimiter {
	config.normalize()
	return &TokenBucketLimiter{client: client, config: config, now: time.Now}
}

// 令牌桶脚本，时间单位为毫秒。
// KEYS[1]: 令牌桶key
// ARGV: 容量, 每窗口补充数, 窗口毫秒数, 请求令牌数, 当前时间
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])
if tokens == nil or last_refill == nil then
    tokens = capacity
    last_refill = now
end

-- 只按整数个令牌推进补充时间，避免高频请求吞掉补充进度
local elapsed = math.max(0, now - last_refill)
local refill = math.floor(elapsed * rate / window)
if refill > 0 then
    tokens = math.min(capacity, tokens + refill)
    last_refill = last_refill + math.floor(refill * window / rate)
end
if tokens >= capacity then
    last_refill = now
end

local allowed = 0
local retry_after = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = math.ceil((requested - tokens) * window / rate) - (now - last_refill)
    if retry_after < 0 then
        retry_after = 0
    end
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('PEXPIRE', key, math.ceil(capacity * window / rate) + window)
return {allowed, tokens, retry_after}
`)

func (tb *TokenBucketLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", tb.config.KeyPrefix, key)
}

// Allow 检查是否允许请求通过
func (tb *TokenBucketLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过
func (tb *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	values, err := tokenBucketScript.Run(ctx, tb.client,
		[]string{tb.key(key)},
		tb.config.Burst,
		tb.config.Rate,
		tb.config.Window.Milliseconds(),
		n,
		tb.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to execute token bucket script: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected token bucket result: %v", values)
	}
	return &LimitResult{
		Allowed:    values[0] == 1,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Reset 重置令牌桶
func (tb *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	if err := tb.client.Del(ctx, tb.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset token bucket: %w", err)
	}
	return nil
}
