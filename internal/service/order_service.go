package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/repo"
)

// OrderService 购物车结算与订单库存协调
type OrderService interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	SaveCart(ctx context.Context, userID int64, items []domain.CartItem) (*domain.Cart, error)

	// Checkout 结算购物车：逐项扣减库存，任一失败则补偿已扣减项
	Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error)

	// 预占流程
	ReserveCart(ctx context.Context, userID int64, actor string) (*domain.Reservation, error)
	ConfirmReservation(ctx context.Context, reservationID string, req *domain.CheckoutRequest) (*domain.Order, error)
	ReleaseReservation(ctx context.Context, reservationID string, userID int64, actor string) error
	ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error)

	// 订单状态机使用
	ProcessOrderStockReduction(ctx context.Context, reference string, items []domain.OrderItem, actor string) error
	RestoreOrderStock(ctx context.Context, orderNumber, actor string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, actor string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error)
}

// OrderServiceOptions 订单服务可选参数
type OrderServiceOptions struct {
	ReservationTTL      time.Duration
	CompensationTimeout time.Duration
	Now                 func() time.Time
}

type orderService struct {
	stock        StockService
	products     repo.ProductRepository
	orders       repo.OrderRepository
	carts        repo.CartStore
	reservations repo.ReservationRepository
	shipping     ShippingPolicy
	publisher    EventPublisher
	logger       *zap.Logger
	tracer       trace.Tracer

	reservationTTL      time.Duration
	compensationTimeout time.Duration
	now                 func() time.Time
}

// NewOrderService 创建订单服务
func NewOrderService(
	stock StockService,
	products repo.ProductRepository,
	orders repo.OrderRepository,
	carts repo.CartStore,
	reservations repo.ReservationRepository,
	shipping ShippingPolicy,
	publisher EventPublisher,
	logger *zap.Logger,
	opts OrderServiceOptions,
) OrderService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &orderService{
		stock:               stock,
		products:            products,
		orders:              orders,
		carts:               carts,
		reservations:        reservations,
		shipping:            shipping,
		publisher:           publisher,
		logger:              logger,
		tracer:              otel.Tracer(tracerName),
		reservationTTL:      opts.ReservationTTL,
		compensationTimeout: opts.CompensationTimeout,
		now:                 opts.Now,
	}
}

func (s *orderService) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	return s.carts.Get(ctx, userID)
}

func (s *orderService) SaveCart(ctx context.Context, userID int64, items []domain.CartItem) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID, Items: []domain.CartItem{}}
	if len(items) > 0 {
		normalized, err := domain.NormalizeCartItems(items)
		if err != nil {
			return nil, err
		}
		cart.Items = normalized
	}
	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *orderService) Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.checkout")
	defer span.End()

	order, err := s.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order.number", order.OrderNumber),
		attribute.String("order.total", order.Total.String()),
	)
	span.SetStatus(codes.Ok, "order placed")
	return order, nil
}

func (s *orderService) checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	items, err := s.loadCartItems(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	attemptID := domain.NewOrderNumber(s.now())
	logger := s.logger.With(zap.String("reference", attemptID), zap.Int64("user_id", req.UserID))

	saga := NewSaga(logger, s.compensationTimeout)
	if err := s.decrementAll(ctx, saga, items, attemptID, req.Actor); err != nil {
		return nil, err
	}

	subtotal := domain.Subtotal(items)
	fee, err := s.shipping.Fee(req.DeliveryArea, subtotal)
	if err != nil {
		_ = saga.Compensate(ctx)
		return nil, err
	}

	order := &domain.Order{
		OrderNumber:  attemptID,
		UserID:       req.UserID,
		Items:        items,
		Subtotal:     subtotal,
		Shipping:     fee,
		Total:        subtotal.Add(fee),
		DeliveryArea: req.DeliveryArea,
		Status:       domain.OrderStatusPending,
		PaymentInfo:  domain.PaymentInfo{Method: req.PaymentMethod, Status: domain.PaymentStatusPending},
	}
	if req.PaymentMethod == domain.PaymentInstant {
		order.Status = domain.OrderStatusConfirmed
		order.PaymentInfo.Status = domain.PaymentStatusPaid
	}

	if err := s.persistOrder(ctx, order, saga, logger); err != nil {
		return nil, err
	}

	logger.Info("order placed",
		zap.String("total", order.Total.String()),
		zap.Int("items", len(order.Items)),
		zap.String("payment_method", string(order.PaymentInfo.Method)),
	)
	return order, nil
}

// decrementAll 按购物车顺序逐项扣减，遇到第一次失败即补偿并返回
func (s *orderService) decrementAll(ctx context.Context, saga *Saga, items []domain.OrderItem, reference, actor string) error {
	for _, it := range items {
		if !it.TrackInventory {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = saga.Compensate(ctx)
			return fmt.Errorf("checkout aborted: %w", err)
		}

		meta := domain.MovementMeta{Reason: "checkout", Reference: reference, Actor: actor}
		ok, rec, err := s.stock.DecrementStock(ctx, it.ProductID, it.Quantity, meta)
		if err != nil {
			_ = saga.Compensate(ctx)
			if errors.Is(err, domain.ErrStockRecordNotFound) {
				return &domain.ProductUnavailableError{ProductIDs: []int64{it.ProductID}}
			}
			return fmt.Errorf("failed to decrement stock for product %d: %w", it.ProductID, err)
		}
		if !ok {
			_ = saga.Compensate(ctx)
			return &domain.InsufficientStockError{
				ProductID: it.ProductID,
				Title:     it.Title,
				Available: rec.Available(),
				Requested: it.Quantity,
			}
		}

		productID, qty := it.ProductID, it.Quantity
		saga.Push("restore decremented stock", productID, qty, reference, func(cctx context.Context) error {
			_, err := s.stock.IncrementStock(cctx, productID, qty, domain.MovementMeta{
				Reason:    "compensation",
				Reference: reference,
				Actor:     actor,
			})
			return err
		})
	}
	return nil
}

// persistOrder 写入订单，失败时补偿；之后的清理与通知失败只记录日志
func (s *orderService) persistOrder(ctx context.Context, order *domain.Order, saga *Saga, logger *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		_ = saga.Compensate(ctx)
		return fmt.Errorf("checkout aborted: %w", err)
	}
	if err := s.orders.Create(ctx, order); err != nil {
		logger.Error("failed to persist order, compensating", zap.Error(err))
		_ = saga.Compensate(ctx)
		return &domain.PersistenceError{Op: "order", Err: err}
	}
	order.CreatedAt = s.now()
	order.UpdatedAt = order.CreatedAt

	if err := s.carts.Clear(ctx, order.UserID); err != nil {
		logger.Warn("failed to clear cart after checkout", zap.Error(err))
	}

	evt := &domain.OrderCreatedEvent{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		ItemCount:   len(order.Items),
		OccurredAt:  order.CreatedAt,
	}
	if err := s.publisher.PublishOrderCreated(ctx, evt); err != nil {
		logger.Warn("failed to publish order created event", zap.Error(err))
	}
	return nil
}

// loadCartItems 读取并校验购物车，解析商品快照；在任何库存操作之前完成
func (s *orderService) loadCartItems(ctx context.Context, userID int64) ([]domain.OrderItem, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	cartItems, err := domain.NormalizeCartItems(cart.Items)
	if err != nil {
		return nil, err
	}
	return s.resolveItems(ctx, cartItems)
}

func (s *orderService) resolveItems(ctx context.Context, cartItems []domain.CartItem) ([]domain.OrderItem, error) {
	ids := make([]int64, len(cartItems))
	for i, it := range cartItems {
		ids[i] = it.ProductID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var unavailable []int64
	items := make([]domain.OrderItem, 0, len(cartItems))
	for _, ci := range cartItems {
		p := byID[ci.ProductID]
		if !p.IsAvailable() {
			unavailable = append(unavailable, ci.ProductID)
			continue
		}
		items = append(items, domain.OrderItem{
			ProductID:      p.ID,
			Title:          p.Title,
			SKU:            p.SKU,
			Price:          p.Price,
			Quantity:       ci.Quantity,
			TrackInventory: p.TrackInventory,
		})
	}
	if len(unavailable) > 0 {
		return nil, &domain.ProductUnavailableError{ProductIDs: unavailable}
	}
	return items, nil
}

func (s *orderService) ReserveCart(ctx context.Context, userID int64, actor string) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "order.reserve_cart")
	defer span.End()

	if userID <= 0 {
		return nil, domain.NewValidationError("user_id", "must be positive")
	}
	items, err := s.loadCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := &domain.Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     items,
		ExpiresAt: s.now().Add(s.reservationTTL),
	}
	logger := s.logger.With(zap.String("reservation_id", res.ID), zap.Int64("user_id", userID))
	saga := NewSaga(logger, s.compensationTimeout)

	for _, it := range items {
		if !it.TrackInventory {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = saga.Compensate(ctx)
			return nil, fmt.Errorf("reservation aborted: %w", err)
		}
		meta := domain.MovementMeta{Reason: "reservation", Reference: res.ID, Actor: actor}
		ok, rec, err := s.stock.ReserveStock(ctx, it.ProductID, it.Quantity, meta)
		if err != nil {
			_ = saga.Compensate(ctx)
			return nil, fmt.Errorf("failed to reserve stock for product %d: %w", it.ProductID, err)
		}
		if !ok {
			_ = saga.Compensate(ctx)
			return nil, &domain.InsufficientStockError{
				ProductID: it.ProductID,
				Title:     it.Title,
				Available: rec.Available(),
				Requested: it.Quantity,
			}
		}
		productID, qty := it.ProductID, it.Quantity
		saga.Push("release reserved stock", productID, qty, res.ID, func(cctx context.Context) error {
			return s.unreserve(cctx, productID, qty, "compensation", res.ID, actor)
		})
	}

	if err := s.reservations.Create(ctx, res); err != nil {
		logger.Error("failed to persist reservation, compensating", zap.Error(err))
		_ = saga.Compensate(ctx)
		return nil, &domain.PersistenceError{Op: "reservation", Err: err}
	}

	logger.Info("cart reserved", zap.Time("expires_at", res.ExpiresAt), zap.Int("items", len(items)))
	return res, nil
}

func (s *orderService) ConfirmReservation(ctx context.Context, reservationID string, req *domain.CheckoutRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.confirm_reservation")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, err := s.ownedReservation(ctx, reservationID, req.UserID)
	if err != nil {
		return nil, err
	}
	if s.now().After(res.ExpiresAt) {
		if err := s.releaseReservation(ctx, res, req.Actor, "reservation_expired"); err != nil {
			return nil, err
		}
		return nil, domain.ErrReservationExpired
	}

	// 先删除记录以独占该预占，避免与释放任务重复处理
	claimed, err := s.reservations.Delete(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrReservationNotFound
	}

	logger := s.logger.With(zap.String("reference", res.ID), zap.Int64("user_id", res.UserID))
	saga := NewSaga(logger, s.compensationTimeout)
	for i, it := range res.Items {
		if !it.TrackInventory {
			continue
		}
		meta := domain.MovementMeta{Reason: "reservation_confirmed", Reference: res.ID, Actor: req.Actor}
		ok, rec, err := s.stock.CommitReservation(ctx, it.ProductID, it.Quantity, meta)
		if err != nil || !ok {
			_ = saga.Compensate(ctx)
			s.releaseItems(ctx, res.Items[i:], res.ID, req.Actor, "reservation_aborted", logger)
			if err != nil {
				return nil, fmt.Errorf("failed to commit reservation for product %d: %w", it.ProductID, err)
			}
			return nil, &domain.InsufficientStockError{
				ProductID: it.ProductID,
				Title:     it.Title,
				Available: rec.Available(),
				Requested: it.Quantity,
			}
		}
		productID, qty := it.ProductID, it.Quantity
		saga.Push("restore committed stock", productID, qty, res.ID, func(cctx context.Context) error {
			_, err := s.stock.IncrementStock(cctx, productID, qty, domain.MovementMeta{
				Reason:    "compensation",
				Reference: res.ID,
				Actor:     req.Actor,
			})
			return err
		})
	}

	subtotal := domain.Subtotal(res.Items)
	fee, err := s.shipping.Fee(req.DeliveryArea, subtotal)
	if err != nil {
		_ = saga.Compensate(ctx)
		return nil, err
	}
	order := &domain.Order{
		OrderNumber:   domain.NewOrderNumber(s.now()),
		UserID:        res.UserID,
		Items:         res.Items,
		Subtotal:      subtotal,
		Shipping:      fee,
		Total:         subtotal.Add(fee),
		DeliveryArea:  req.DeliveryArea,
		Status:        domain.OrderStatusConfirmed,
		PaymentInfo:   domain.PaymentInfo{Method: req.PaymentMethod, Status: domain.PaymentStatusPaid},
		ReservationID: res.ID,
	}
	if err := s.persistOrder(ctx, order, saga, logger); err != nil {
		return nil, err
	}

	logger.Info("reservation confirmed", zap.String("order_number", order.OrderNumber))
	return order, nil
}

func (s *orderService) ReleaseReservation(ctx context.Context, reservationID string, userID int64, actor string) error {
	res, err := s.ownedReservation(ctx, reservationID, userID)
	if err != nil {
		return err
	}
	return s.releaseReservation(ctx, res, actor, "reservation_released")
}

func (s *orderService) ReleaseExpiredReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.reservations.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, res := range expired {
		if err := s.releaseReservation(ctx, res, "system", "reservation_expired"); err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				continue
			}
			return released, err
		}
		released++
	}
	if released > 0 {
		s.logger.Info("expired reservations released", zap.Int("count", released))
	}
	return released, nil
}

func (s *orderService) ownedReservation(ctx context.Context, id string, userID int64) (*domain.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, domain.ErrReservationNotFound
	}
	return res, nil
}

// releaseReservation 删除预占记录并归还预占数量，只有删除成功的一方负责归还
func (s *orderService) releaseReservation(ctx context.Context, res *domain.Reservation, actor, reason string) error {
	claimed, err := s.reservations.Delete(ctx, res.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrReservationNotFound
	}
	logger := s.logger.With(zap.String("reference", res.ID))
	if failed := s.releaseItems(ctx, res.Items, res.ID, actor, reason, logger); failed > 0 {
		return fmt.Errorf("failed to release %d reserved items of %s", failed, res.ID)
	}
	logger.Info("reservation released", zap.String("reason", reason))
	return nil
}

// releaseItems 逐项归还预占，返回失败项数
func (s *orderService) releaseItems(ctx context.Context, items []domain.OrderItem, reference, actor, reason string, logger *zap.Logger) int {
	failed := 0
	for _, it := range items {
		if !it.TrackInventory {
			continue
		}
		err := s.detached(ctx, func(cctx context.Context) error {
			return s.unreserve(cctx, it.ProductID, it.Quantity, reason, reference, actor)
		})
		if err != nil {
			failed++
			logger.Error("failed to release reserved stock, manual reconciliation required",
				zap.String("severity", "CRITICAL"),
				zap.Int64("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
		}
	}
	return failed
}

func (s *orderService) unreserve(ctx context.Context, productID int64, qty int, reason, reference, actor string) error {
	ok, _, err := s.stock.UnreserveStock(ctx, productID, qty, domain.MovementMeta{
		Reason:    reason,
		Reference: reference,
		Actor:     actor,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reserved stock of product %d is below %d", productID, qty)
	}
	return nil
}

// detached 在脱离调用方取消信号的上下文中执行单个库存归还，每次调用独立计时
func (s *orderService) detached(ctx context.Context, fn func(ctx context.Context) error) error {
	timeout := s.compensationTimeout
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return fn(cctx)
}

func (s *orderService) ProcessOrderStockReduction(ctx context.Context, reference string, items []domain.OrderItem, actor string) error {
	if len(items) == 0 {
		return domain.NewValidationError("items", "no items to reduce")
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return domain.NewValidationError("quantity", fmt.Sprintf("product %d: quantity must be at least 1", it.ProductID))
		}
	}
	saga := NewSaga(s.logger.With(zap.String("reference", reference)), s.compensationTimeout)
	return s.decrementAll(ctx, saga, items, reference, actor)
}

func (s *orderService) RestoreOrderStock(ctx context.Context, orderNumber, actor string) (*domain.Order, error) {
	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, domain.ErrInvalidStatusTransition
	}
	// 状态条件更新保证并发取消只有一次能成功，库存不会被重复归还
	if err := s.orders.UpdateStatus(ctx, orderNumber, order.Status, domain.OrderStatusCancelled); err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusCancelled

	var errs []error
	for _, it := range order.Items {
		if !it.TrackInventory {
			continue
		}
		meta := domain.MovementMeta{Reason: "order_cancelled", Reference: orderNumber, Actor: actor}
		err := s.detached(ctx, func(cctx context.Context) error {
			_, err := s.stock.IncrementStock(cctx, it.ProductID, it.Quantity, meta)
			return err
		})
		if err != nil {
			s.logger.Error("failed to restore stock for cancelled order",
				zap.String("severity", "CRITICAL"),
				zap.String("reference", orderNumber),
				zap.Int64("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("order %s cancelled but stock restore incomplete: %w", orderNumber, err)
	}

	s.logger.Info("order cancelled, stock restored", zap.String("order_number", orderNumber), zap.String("actor", actor))
	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, orderNumber string, status domain.OrderStatus, actor string) (*domain.Order, error) {
	if !status.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown order status %q", status))
	}
	if status == domain.OrderStatusCancelled {
		return s.RestoreOrderStock(ctx, orderNumber, actor)
	}

	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(status) {
		return nil, domain.ErrInvalidStatusTransition
	}
	if err := s.orders.UpdateStatus(ctx, orderNumber, order.Status, status); err != nil {
		return nil, err
	}

	s.logger.Info("order status updated",
		zap.String("order_number", orderNumber),
		zap.String("from", string(order.Status)),
		zap.String("to", string(status)),
		zap.String("actor", actor),
	)
	order.Status = status
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.orders.GetByNumber(ctx, orderNumber)
}
