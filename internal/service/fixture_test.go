package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
)

// fixture 组装一套基于内存依赖的服务
type fixture struct {
	stockRepo    *memStockRepo
	products     *memProductRepo
	orders       *memOrderRepo
	alerts       *memAlertRepo
	reservations *memReservationRepo
	carts        repo.CartStore
	cache        *cache.MemoryCache
	publisher    *recordingPublisher
	logs         *observer.ObservedLogs
	now          time.Time

	stock StockService
	alert AlertService
	order OrderService
	stats StatsService
}

var (
	kettle  = &domain.Product{ID: 1, Title: "Kettle", Slug: "kettle", SKU: "K-1", Price: decimal.NewFromInt(50), TrackInventory: true, IsActive: true}
	mug     = &domain.Product{ID: 2, Title: "Mug", Slug: "mug", SKU: "M-1", Price: decimal.NewFromInt(8), TrackInventory: true, IsActive: true}
	ebook   = &domain.Product{ID: 3, Title: "E-book", Slug: "ebook", SKU: "E-1", Price: decimal.NewFromInt(30), TrackInventory: false, IsActive: true}
	retired = &domain.Product{ID: 4, Title: "Retired", Slug: "retired", SKU: "R-1", Price: decimal.NewFromInt(5), TrackInventory: true, IsActive: false}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	f := &fixture{
		stockRepo:    newMemStockRepo(),
		products:     newMemProductRepo(kettle, mug, ebook, retired),
		orders:       newMemOrderRepo(),
		alerts:       &memAlertRepo{},
		reservations: newMemReservationRepo(),
		cache:        cache.NewMemoryCache(),
		publisher:    &recordingPublisher{},
		logs:         logs,
		now:          time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC),
	}
	f.carts = repo.NewCartStore(f.cache, 0)

	f.alert = NewAlertService(f.alerts, f.publisher, logger)
	f.stock = NewStockService(f.stockRepo, f.products, f.alert, cache.NewInvalidator(f.cache, logger), f.publisher, logger)
	shipping := ShippingPolicy{
		NearFee:       decimal.NewFromInt(60),
		FarFee:        decimal.NewFromInt(120),
		FreeThreshold: decimal.NewFromInt(1000),
	}
	f.order = NewOrderService(f.stock, f.products, f.orders, f.carts, f.reservations, shipping, f.publisher, logger,
		OrderServiceOptions{
			ReservationTTL: 15 * time.Minute,
			Now:            func() time.Time { return f.now },
		})
	f.stats = NewStatsService(f.stockRepo, f.alerts, f.alert)
	return f
}

func (f *fixture) setCart(t *testing.T, userID int64, items ...domain.CartItem) {
	t.Helper()
	if err := f.carts.Save(context.Background(), &domain.Cart{UserID: userID, Items: items}); err != nil {
		t.Fatalf("save cart: %v", err)
	}
}

func item(productID int64, qty int) domain.CartItem {
	return domain.CartItem{ProductID: productID, Quantity: qty}
}

func checkoutReq(userID int64) *domain.CheckoutRequest {
	return &domain.CheckoutRequest{UserID: userID, Actor: "tester", DeliveryArea: domain.DeliveryNear}
}
