// Package cache 提供缓存抽象：Redis、内存、两级（带熔断）以及空实现。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"time"
)

// ErrCacheMiss 键不存在或已过期
var ErrCacheMiss = errors.New("cache: key not found")

// Cache 定义缓存操作接口
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DelPattern 删除匹配 glob 模式的所有键
	DelPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// IsMiss 判断是否为缓存未命中
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// MemoryCache 并发安全的进程内缓存，用于开发、测试以及 Redis 不可用时的降级
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]*memoryCacheItem
	now  func() time.Time
}

type memoryCacheItem struct {
	value      []byte
	expiration time.Time // 零值表示永不过期
}

func (i *memoryCacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache 创建内存缓存实例
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]*memoryCacheItem),
		now:  time.Now,
	}
}

// Get 获取缓存值
func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return ErrCacheMiss
	}
	if item.expired(m.now()) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return ErrCacheMiss
	}
	return json.Unmarshal(item.value, dest)
}

// Set 设置缓存值，expiration <= 0 表示永不过期
func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = m.newItem(data, expiration)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) newItem(data []byte, expiration time.Duration) *memoryCacheItem {
	item := &memoryCacheItem{value: data}
	if expiration > 0 {
		item.expiration = m.now().Add(expiration)
	}
	return item
}

// Del 删除缓存值
func (m *MemoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.data, key)
	}
	m.mu.Unlock()
	return nil
}

// DelPattern 删除匹配模式的键，模式语法同 path.Match
func (m *MemoryCache) DelPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.data, key)
		}
	}
	return nil
}

// Exists 检查键是否存在
func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	return ok && !item.expired(m.now()), nil
}

// SetNX 仅当键不存在时设置
func (m *MemoryCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.data[key]; ok && !item.expired(m.now()) {
		return false, nil
	}
	m.data[key] = m.newItem(data, expiration)
	return true, nil
}

// Ping 检查连接
func (m *MemoryCache) Ping(context.Context) error {
	return nil
}

// Close 清空缓存
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.data = make(map[string]*memoryCacheItem)
	m.mu.Unlock()
	return nil
}

// Len 返回当前条目数（含未清理的过期条目）
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// NullCache 空缓存实现（禁用缓存时使用）
type NullCache struct{}

// NewNullCache 创建空缓存实例
func NewNullCache() *NullCache {
	return &NullCache{}
}

func (n *NullCache) Get(context.Context, string, interface{}) error {
	return ErrCacheMiss
}

func (n *NullCache) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (n *NullCache) Del(context.Context, ...string) error {
	return nil
}

func (n *NullCache) DelPattern(context.Context, string) error {
	return nil
}

func (n *NullCache) Exists(context.Context, string) (bool, error) {
	return false, nil
}

func (n *NullCache) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return true, nil
}

func (n *NullCache) Ping(context.Context) error {
	return nil
}

func (n *NullCache) Close() error {
	return nil
}
