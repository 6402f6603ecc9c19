// Package service 实现库存履约的业务逻辑层：原子库存操作、结算 Saga、告警与统计。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
)

const (
	tracerName = "github.com/MorseWayne/shop_fulfillment/internal/service"

	// 告警评估、缓存失效与事件发布共用的超时，不占用调用方（包括补偿步骤）的时间预算
	defaultSideEffectTimeout = 3 * time.Second
)

// StockService 库存业务接口。
// 所有库存写入经由 StockRepository 的条件更新完成，成功后同步执行告警评估、缓存失效与事件发布。
type StockService interface {
	CreateStockRecord(ctx context.Context, req *domain.CreateStockRecordRequest, actor string) (*domain.StockRecord, error)
	GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error)

	DecrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	IncrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (*domain.StockRecord, error)
	ReserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	UnreserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	CommitReservation(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)

	// 管理端操作
	Restock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error)
	AdjustStock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error)
}

type stockService struct {
	stock       repo.StockRepository
	products    repo.ProductRepository
	alerts      AlertService
	invalidator *cache.Invalidator
	publisher   EventPublisher
	logger      *zap.Logger
	tracer      trace.Tracer

	sideEffectTimeout time.Duration
}

// NewStockService 创建库存服务
func NewStockService(
	stock repo.StockRepository,
	products repo.ProductRepository,
	alerts AlertService,
	invalidator *cache.Invalidator,
	publisher EventPublisher,
	logger *zap.Logger,
) StockService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &stockService{
		stock:       stock,
		products:    products,
		alerts:      alerts,
		invalidator: invalidator,
		publisher:   publisher,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),

		sideEffectTimeout: defaultSideEffectTimeout,
	}
}

func (s *stockService) CreateStockRecord(ctx context.Context, req *domain.CreateStockRecordRequest, actor string) (*domain.StockRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	product, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if product == nil {
		return nil, &domain.ProductUnavailableError{ProductIDs: []int64{req.ProductID}}
	}

	rec := &domain.StockRecord{
		ProductID:     req.ProductID,
		CurrentStock:  req.CurrentStock,
		MinStockLevel: req.MinStockLevel,
		ReorderPoint:  req.ReorderPoint,
		MaxStockLevel: req.MaxStockLevel,
		CostPrice:     req.CostPrice,
		SellingPrice:  req.SellingPrice,
		Supplier:      req.Supplier,
		Location:      req.Location,
	}
	meta := domain.MovementMeta{Reason: "initial stock", Actor: actor}
	if err := s.stock.Create(ctx, rec, meta); err != nil {
		return nil, err
	}

	s.logger.Info("stock record created",
		zap.Int64("product_id", rec.ProductID),
		zap.Int("current_stock", rec.CurrentStock),
		zap.String("actor", actor),
	)
	s.afterMutation(ctx, rec, domain.MovementIn, rec.CurrentStock, meta)
	return rec, nil
}

func (s *stockService) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	return s.stock.GetByProductID(ctx, productID)
}

func (s *stockService) DecrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return s.conditional(ctx, "stock.decrement", domain.MovementOut, productID, qty, meta, s.stock.DecrementStock)
}

func (s *stockService) IncrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (*domain.StockRecord, error) {
	_, rec, err := s.conditional(ctx, "stock.increment", domain.MovementIn, productID, qty, meta,
		func(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
			rec, err := s.stock.IncrementStock(ctx, productID, qty, meta)
			return err == nil, rec, err
		})
	return rec, err
}

func (s *stockService) ReserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return s.conditional(ctx, "stock.reserve", domain.MovementReserved, productID, qty, meta, s.stock.ReserveStock)
}

func (s *stockService) UnreserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return s.conditional(ctx, "stock.unreserve", domain.MovementUnreserved, productID, qty, meta, s.stock.UnreserveStock)
}

func (s *stockService) CommitReservation(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return s.conditional(ctx, "stock.commit_reservation", domain.MovementOut, productID, qty, meta, s.stock.CommitReservation)
}

func (s *stockService) Restock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error) {
	if req.Quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}
	return s.IncrementStock(ctx, productID, req.Quantity, domain.MovementMeta{Reason: reasonOr(req.Reason, "restock"), Actor: actor})
}

func (s *stockService) AdjustStock(ctx context.Context, productID int64, req *domain.StockChangeRequest, actor string) (*domain.StockRecord, error) {
	if req.Quantity == 0 {
		return nil, domain.NewValidationError("quantity", "must not be zero")
	}
	if req.Reason == "" {
		return nil, domain.NewValidationError("reason", "adjustments require a reason")
	}
	meta := domain.MovementMeta{Reason: req.Reason, Actor: actor}
	ok, rec, err := s.conditional(ctx, "stock.adjust", domain.MovementAdjustment, productID, req.Quantity, meta, s.stock.AdjustStock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewValidationError("quantity",
			fmt.Sprintf("adjustment of %d would leave %d on hand with %d reserved", req.Quantity, rec.CurrentStock+req.Quantity, rec.ReservedStock))
	}
	return rec, nil
}

type casFunc func(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)

// conditional 执行一次条件更新并在成功后触发副作用
func (s *stockService) conditional(
	ctx context.Context,
	spanName string,
	movement domain.MovementType,
	productID int64,
	qty int,
	meta domain.MovementMeta,
	op casFunc,
) (bool, *domain.StockRecord, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("stock.product_id", productID),
		attribute.Int("stock.quantity", qty),
		attribute.String("stock.reference", meta.Reference),
	)

	ok, rec, err := op(ctx, productID, qty, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stock operation failed")
		if errors.Is(err, domain.ErrStockRecordNotFound) {
			return false, nil, err
		}
		return false, nil, fmt.Errorf("failed to %s: %w", spanName, err)
	}
	span.SetAttributes(attribute.Bool("stock.applied", ok), attribute.Int("stock.available", rec.Available()))
	if !ok {
		return false, rec, nil
	}

	s.afterMutation(ctx, rec, movement, qty, meta)
	return true, rec, nil
}

// afterMutation 库存变更后的副作用，失败只记录日志。
// 副作用使用独立的上下文与超时，不受调用方取消影响，也不消耗调用方的截止时间。
func (s *stockService) afterMutation(ctx context.Context, rec *domain.StockRecord, movement domain.MovementType, qty int, meta domain.MovementMeta) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideEffectTimeout)
	defer cancel()

	if movement.AffectsCurrentStock() && s.alerts != nil {
		if _, err := s.alerts.Evaluate(ctx, rec); err != nil {
			s.logger.Warn("low stock evaluation failed", zap.Int64("product_id", rec.ProductID), zap.Error(err))
		}
	}

	if s.invalidator != nil {
		ref := cache.ProductRef{ID: rec.ProductID}
		if product, err := s.products.GetByID(ctx, rec.ProductID); err == nil && product != nil {
			ref.Slug = product.Slug
			ref.CategoryID = product.CategoryID
		} else if err != nil {
			s.logger.Warn("product lookup for cache invalidation failed", zap.Int64("product_id", rec.ProductID), zap.Error(err))
		}
		s.invalidator.InvalidateProduct(ctx, ref)
	}

	evt := &domain.StockMovementEvent{
		ProductID:      rec.ProductID,
		Type:           movement,
		Quantity:       qty,
		CurrentStock:   rec.CurrentStock,
		ReservedStock:  rec.ReservedStock,
		AvailableStock: rec.Available(),
		Reference:      meta.Reference,
		OccurredAt:     time.Now(),
	}
	if err := s.publisher.PublishStockMovement(ctx, evt); err != nil {
		s.logger.Warn("failed to publish stock movement", zap.Int64("product_id", rec.ProductID), zap.Error(err))
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
