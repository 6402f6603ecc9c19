package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

func TestStatsService_GetInventoryStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stockRepo.seed(kettle.ID, 10, 3, 1)
	f.stockRepo.seed(mug.ID, 4, 0, 0)

	_, _, err := f.stock.DecrementStock(ctx, kettle.ID, 8, domain.MovementMeta{})
	require.NoError(t, err)
	_, _, err = f.stock.DecrementStock(ctx, mug.ID, 4, domain.MovementMeta{})
	require.NoError(t, err)
	_, _, err = f.stock.ReserveStock(ctx, kettle.ID, 1, domain.MovementMeta{})
	require.NoError(t, err)

	stats, err := f.stats.GetInventoryStats(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalProducts)
	assert.Equal(t, int64(2), stats.TotalStock)
	assert.Equal(t, int64(1), stats.TotalReservedStock)
	assert.Equal(t, "4", stats.TotalStockValue.String())
	assert.Equal(t, int64(1), stats.LowStockProducts)
	assert.Equal(t, int64(1), stats.OutOfStockProducts)
	assert.Equal(t, int64(2), stats.UnresolvedAlerts)
	require.Len(t, stats.TopMovers, 2)
	assert.Equal(t, kettle.ID, stats.TopMovers[0].ProductID)
	assert.Equal(t, int64(8), stats.TopMovers[0].QuantityOut)
	assert.WithinDuration(t, stats.GeneratedAt.Add(-DefaultStatsWindow), stats.WindowStart, time.Second)
}

func TestStatsService_GetStockMovements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stockRepo.seed(kettle.ID, 10, 0, 0)
	f.stockRepo.seed(mug.ID, 10, 0, 0)
	for i := 0; i < 3; i++ {
		_, _, err := f.stock.DecrementStock(ctx, kettle.ID, 1, domain.MovementMeta{Reference: "ORD"})
		require.NoError(t, err)
	}

	pid := kettle.ID
	page, err := f.stats.GetStockMovements(ctx, &domain.MovementListRequest{ProductID: &pid, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, domain.MovementOut, page.Items[0].Type, "newest first")

	page, err = f.stats.GetStockMovements(ctx, &domain.MovementListRequest{Page: 0, Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, int64(5), page.Total)
}

func TestStatsService_ReplayStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stockRepo.seed(kettle.ID, 10, 0, 0)

	_, _, err := f.stock.DecrementStock(ctx, kettle.ID, 4, domain.MovementMeta{})
	require.NoError(t, err)
	_, err = f.stock.IncrementStock(ctx, kettle.ID, 2, domain.MovementMeta{})
	require.NoError(t, err)
	_, err = f.stock.AdjustStock(ctx, kettle.ID, &domain.StockChangeRequest{Quantity: -1, Reason: "breakage"}, "ops")
	require.NoError(t, err)
	_, _, err = f.stock.ReserveStock(ctx, kettle.ID, 3, domain.MovementMeta{})
	require.NoError(t, err)

	check, err := f.stats.ReplayStock(ctx, kettle.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, check.Recorded)
	assert.Equal(t, 7, check.Replayed)
	assert.True(t, check.Consistent)

	// 绕过台账直接改数，回放应能发现
	f.stockRepo.mu.Lock()
	f.stockRepo.records[kettle.ID].CurrentStock = 99
	f.stockRepo.mu.Unlock()
	check, err = f.stats.ReplayStock(ctx, kettle.ID)
	require.NoError(t, err)
	assert.False(t, check.Consistent)

	_, err = f.stats.ReplayStock(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrStockRecordNotFound)
}
