package repo

import (
	"context"
	"time"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// CachedProductRepository 带缓存的商品仓储，失效由 cache.Invalidator 负责
type CachedProductRepository struct {
	repo  ProductRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedProductRepository 创建带缓存的商品仓储
func NewCachedProductRepository(repo ProductRepository, c cache.Cache, ttl time.Duration) *CachedProductRepository {
	return &CachedProductRepository{
		repo:  repo,
		cache: c,
		ttl:   ttl,
	}
}

// GetByID 根据ID获取商品（带缓存）
func (r *CachedProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := cache.ProductIDKey(id)

	var product domain.Product
	if err := r.cache.Get(ctx, key, &product); err == nil {
		return &product, nil
	}

	// 缓存未命中或缓存故障，回源数据库
	result, err := r.repo.GetByID(ctx, id)
	if err != nil || result == nil {
		return result, err
	}
	_ = r.cache.Set(ctx, key, result, r.ttl)
	return result, nil
}

// GetBySlug 根据slug获取商品（带缓存）
func (r *CachedProductRepository) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	key := cache.ProductSlugKey(slug)

	var product domain.Product
	if err := r.cache.Get(ctx, key, &product); err == nil {
		return &product, nil
	}

	result, err := r.repo.GetBySlug(ctx, slug)
	if err != nil || result == nil {
		return result, err
	}
	_ = r.cache.Set(ctx, key, result, r.ttl)
	// 同时缓存ID索引
	_ = r.cache.Set(ctx, cache.ProductIDKey(result.ID), result, r.ttl)
	return result, nil
}

// GetByIDs 批量获取商品（部分缓存），结果按入参顺序返回
func (r *CachedProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	found := make(map[int64]*domain.Product, len(ids))
	var missing []int64

	for _, id := range ids {
		var product domain.Product
		if err := r.cache.Get(ctx, cache.ProductIDKey(id), &product); err == nil {
			found[id] = &product
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		fromDB, err := r.repo.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, p := range fromDB {
			found[p.ID] = p
			_ = r.cache.Set(ctx, cache.ProductIDKey(p.ID), p, r.ttl)
		}
	}

	products := make([]*domain.Product, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			products = append(products, p)
			delete(found, id)
		}
	}
	return products, nil
}
