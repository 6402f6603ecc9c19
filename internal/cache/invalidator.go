package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ProductRef 定位某个商品所有相关缓存所需的信息
type ProductRef struct {
	ID         int64
	Slug       string
	CategoryID *int64
}

// Invalidator 在库存变更后清理可能内嵌旧库存的缓存。
// 失败只记录日志，不向调用方返回，也不回滚库存变更。
type Invalidator struct {
	cache  Cache
	logger *zap.Logger
}

// NewInvalidator 创建缓存失效器
func NewInvalidator(c Cache, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{cache: c, logger: logger}
}

// InvalidateProduct 清理商品详情（ID 与 slug）、库存读缓存、分类列表、首页与搜索缓存
func (i *Invalidator) InvalidateProduct(ctx context.Context, ref ProductRef) {
	keys := []string{ProductIDKey(ref.ID), StockKey(ref.ID)}
	if ref.Slug != "" {
		keys = append(keys, ProductSlugKey(ref.Slug))
	}

	var errs []error
	if err := i.cache.Del(ctx, keys...); err != nil {
		errs = append(errs, err)
	}

	patterns := []string{HomePattern, SearchPattern}
	if ref.CategoryID != nil {
		patterns = append(patterns, CategoryListPattern(*ref.CategoryID))
	}
	for _, p := range patterns {
		if err := i.cache.DelPattern(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		i.logger.Warn("cache invalidation failed",
			zap.Int64("product_id", ref.ID),
			zap.String("slug", ref.Slug),
			zap.Error(err))
	}
}
