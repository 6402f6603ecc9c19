package repo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// countingProductRepo 记录回源次数
type countingProductRepo struct {
	products map[int64]*domain.Product
	calls    int
}

func (r *countingProductRepo) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	r.calls++
	return r.products[id], nil
}

func (r *countingProductRepo) GetBySlug(_ context.Context, slug string) (*domain.Product, error) {
	r.calls++
	for _, p := range r.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}

func (r *countingProductRepo) GetByIDs(_ context.Context, ids []int64) ([]*domain.Product, error) {
	r.calls++
	var out []*domain.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestCachedProductRepository(t *testing.T) {
	ctx := context.Background()
	base := &countingProductRepo{products: map[int64]*domain.Product{
		1: {ID: 1, Title: "Kettle", Slug: "kettle", Price: decimal.NewFromInt(50), IsActive: true},
		2: {ID: 2, Title: "Mug", Slug: "mug", Price: decimal.NewFromInt(8), IsActive: true},
	}}
	mem := cache.NewMemoryCache()
	r := NewCachedProductRepository(base, mem, time.Minute)

	p, err := r.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Kettle", p.Title)
	_, err = r.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, base.calls, "second read should hit cache")

	missing, err := r.GetByID(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := r.GetByIDs(ctx, []int64{2, 1})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ID)
	assert.Equal(t, int64(1), list[1].ID)

	// 失效后重新回源
	require.NoError(t, mem.Del(ctx, cache.ProductIDKey(1)))
	before := base.calls
	_, err = r.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before+1, base.calls)

	bySlug, err := r.GetBySlug(ctx, "mug")
	require.NoError(t, err)
	assert.Equal(t, int64(2), bySlug.ID)
}
