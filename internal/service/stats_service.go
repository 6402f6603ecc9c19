package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
)

const (
	DefaultStatsWindow = 30 * 24 * time.Hour
	topMoversLimit     = 10
)

// StatsService 库存统计与台账核对
type StatsService interface {
	GetInventoryStats(ctx context.Context, window time.Duration) (*domain.InventoryStats, error)
	GetStockMovements(ctx context.Context, req *domain.MovementListRequest) (*domain.MovementPage, error)
	GetLowStockAlerts(ctx context.Context, req *domain.AlertListRequest) (*domain.AlertPage, error)
	ReplayStock(ctx context.Context, productID int64) (*domain.LedgerCheck, error)
}

type statsService struct {
	stock  repo.StockRepository
	alerts AlertService
	counts repo.AlertRepository
	now    func() time.Time
}

// NewStatsService 创建统计服务
func NewStatsService(stock repo.StockRepository, alertRepo repo.AlertRepository, alerts AlertService) StatsService {
	return &statsService{stock: stock, alerts: alerts, counts: alertRepo, now: time.Now}
}

// GetInventoryStats 并发汇总台账、未处理告警与出库排行
func (s *statsService) GetInventoryStats(ctx context.Context, window time.Duration) (*domain.InventoryStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	now := s.now()
	stats := &domain.InventoryStats{WindowStart: now.Add(-window), GeneratedAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agg, err := s.stock.Aggregate(gctx)
		if err != nil {
			return err
		}
		stats.StockAggregate = *agg
		return nil
	})
	g.Go(func() error {
		n, err := s.counts.CountUnresolved(gctx)
		stats.UnresolvedAlerts = n
		return err
	})
	g.Go(func() error {
		movers, err := s.stock.TopMovers(gctx, stats.WindowStart, topMoversLimit)
		stats.TopMovers = movers
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if stats.TopMovers == nil {
		stats.TopMovers = []*domain.TopMover{}
	}
	return stats, nil
}

func (s *statsService) GetStockMovements(ctx context.Context, req *domain.MovementListRequest) (*domain.MovementPage, error) {
	req.Normalize()
	items, total, err := s.stock.ListMovements(ctx, req)
	if err != nil {
		return nil, err
	}
	return &domain.MovementPage{Items: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (s *statsService) GetLowStockAlerts(ctx context.Context, req *domain.AlertListRequest) (*domain.AlertPage, error) {
	return s.alerts.List(ctx, req)
}

// ReplayStock 回放流水并与台账当前值比对
func (s *statsService) ReplayStock(ctx context.Context, productID int64) (*domain.LedgerCheck, error) {
	rec, err := s.stock.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	replayed, err := s.stock.ReplayMovements(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &domain.LedgerCheck{
		ProductID:  productID,
		Recorded:   rec.CurrentStock,
		Replayed:   replayed,
		Consistent: rec.CurrentStock == replayed,
	}, nil
}
