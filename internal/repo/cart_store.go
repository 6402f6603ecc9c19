package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// CartStore 购物车存储，购物车只在缓存中保存
type CartStore interface {
	Get(ctx context.Context, userID int64) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Clear(ctx context.Context, userID int64) error
}

type cacheCartStore struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCartStore 创建基于缓存的购物车存储，ttl 为 0 表示不过期
func NewCartStore(c cache.Cache, ttl time.Duration) CartStore {
	return &cacheCartStore{cache: c, ttl: ttl}
}

// Get 获取购物车，不存在时返回空购物车
func (s *cacheCartStore) Get(ctx context.Context, userID int64) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID}
	err := s.cache.Get(ctx, cache.CartKey(userID), cart)
	if cache.IsMiss(err) {
		return &domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return cart, nil
}

// Save 保存购物车
func (s *cacheCartStore) Save(ctx context.Context, cart *domain.Cart) error {
	if err := s.cache.Set(ctx, cache.CartKey(cart.UserID), cart, s.ttl); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

// Clear 清空购物车
func (s *cacheCartStore) Clear(ctx context.Context, userID int64) error {
	if err := s.cache.Del(ctx, cache.CartKey(userID)); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
