package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
)

// AlertService 低库存告警
type AlertService interface {
	// Evaluate 按记录当前状态评估告警，返回新建的告警。
	// 同一告警周期内只告警一次，处理后也不会重复告警，库存回到正常水平才结束周期。
	Evaluate(ctx context.Context, rec *domain.StockRecord) (*domain.LowStockAlert, error)
	Resolve(ctx context.Context, alertID int64, resolvedBy string) error
	List(ctx context.Context, req *domain.AlertListRequest) (*domain.AlertPage, error)
}

type alertService struct {
	alerts    repo.AlertRepository
	publisher EventPublisher
	logger    *zap.Logger
}

// NewAlertService 创建告警服务
func NewAlertService(alerts repo.AlertRepository, publisher EventPublisher, logger *zap.Logger) AlertService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &alertService{alerts: alerts, publisher: publisher, logger: logger}
}

func (s *alertService) Evaluate(ctx context.Context, rec *domain.StockRecord) (*domain.LowStockAlert, error) {
	severity := domain.ComputeSeverity(rec)
	if severity == domain.SeverityNone {
		n, err := s.alerts.Clear(ctx, rec.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to clear low stock alerts: %w", err)
		}
		if n > 0 {
			s.logger.Info("stock recovered, low stock episode closed",
				zap.Int64("product_id", rec.ProductID),
				zap.Int("current_stock", rec.CurrentStock),
			)
		}
		return nil, nil
	}

	alert := &domain.LowStockAlert{
		ProductID:    rec.ProductID,
		CurrentStock: rec.CurrentStock,
		Severity:     severity,
		CreatedAt:    time.Now(),
	}
	created, err := s.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to raise low stock alert: %w", err)
	}
	if !created {
		return nil, nil
	}

	s.logger.Warn("low stock alert raised",
		zap.Int64("alert_id", alert.ID),
		zap.Int64("product_id", alert.ProductID),
		zap.Int("current_stock", alert.CurrentStock),
		zap.String("alert_severity", string(severity)),
	)

	evt := &domain.LowStockEvent{
		AlertID:      alert.ID,
		ProductID:    alert.ProductID,
		CurrentStock: alert.CurrentStock,
		Severity:     severity,
		OccurredAt:   alert.CreatedAt,
	}
	if err := s.publisher.PublishLowStock(ctx, evt); err != nil {
		s.logger.Warn("failed to publish low stock event", zap.Int64("alert_id", alert.ID), zap.Error(err))
	}
	return alert, nil
}

func (s *alertService) Resolve(ctx context.Context, alertID int64, resolvedBy string) error {
	if err := s.alerts.Resolve(ctx, alertID, resolvedBy); err != nil {
		return err
	}
	s.logger.Info("low stock alert resolved", zap.Int64("alert_id", alertID), zap.String("resolved_by", resolvedBy))
	return nil
}

func (s *alertService) List(ctx context.Context, req *domain.AlertListRequest) (*domain.AlertPage, error) {
	alerts, total, err := s.alerts.List(ctx, req)
	if err != nil {
		return nil, err
	}
	return &domain.AlertPage{Items: alerts, Total: total, Page: req.Page, Limit: req.Limit}, nil
}
