package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// memStockRepo 内存版库存台账，条件更新在锁内完成，语义与 SQL 版本一致
type memStockRepo struct {
	mu        sync.Mutex
	records   map[int64]*domain.StockRecord
	movements []*domain.StockMovement

	decrementErr map[int64]error
	incrementErr error
	// afterDecrement 在成功扣减后调用，用于模拟请求中途取消
	afterDecrement func(productID int64)
}

func newMemStockRepo() *memStockRepo {
	return &memStockRepo{
		records:      make(map[int64]*domain.StockRecord),
		decrementErr: make(map[int64]error),
	}
}

// seed 直接写入台账与初始入库流水
func (m *memStockRepo) seed(productID int64, current, minLevel, reorder int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[productID] = &domain.StockRecord{
		ID:            productID,
		ProductID:     productID,
		CurrentStock:  current,
		MinStockLevel: minLevel,
		ReorderPoint:  reorder,
		CostPrice:     decimal.NewFromInt(2),
	}
	m.movements = append(m.movements, &domain.StockMovement{
		ID: int64(len(m.movements) + 1), ProductID: productID, Type: domain.MovementIn,
		Quantity: current, NewStock: current, Reason: "seed", Actor: "system", CreatedAt: time.Now(),
	})
}

func (m *memStockRepo) get(productID int64) domain.StockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.records[productID]
}

func (m *memStockRepo) movementsFor(productID int64) []*domain.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StockMovement
	for _, mv := range m.movements {
		if mv.ProductID == productID {
			out = append(out, mv)
		}
	}
	return out
}

func (m *memStockRepo) Create(ctx context.Context, rec *domain.StockRecord, meta domain.MovementMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ProductID]; ok {
		return domain.ErrStockRecordExists
	}
	rec.ID = int64(len(m.records) + 1)
	rec.AvailableStock = rec.CurrentStock
	cp := *rec
	m.records[rec.ProductID] = &cp
	if rec.CurrentStock > 0 {
		m.record(rec.ProductID, domain.MovementIn, rec.CurrentStock, 0, rec.CurrentStock, meta)
	}
	return nil
}

func (m *memStockRepo) GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[productID]
	if !ok {
		return nil, domain.ErrStockRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStockRepo) GetByProductIDs(ctx context.Context, ids []int64) ([]*domain.StockRecord, error) {
	var out []*domain.StockRecord
	for _, id := range ids {
		if rec, err := m.GetByProductID(ctx, id); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStockRepo) DecrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	m.mu.Lock()
	err := m.decrementErr[productID]
	hook := m.afterDecrement
	m.mu.Unlock()
	if err != nil {
		return false, nil, err
	}
	ok, rec, err := m.apply(ctx, productID, domain.MovementOut, qty, meta,
		func(r *domain.StockRecord) bool { return r.CurrentStock-r.ReservedStock >= qty },
		func(r *domain.StockRecord) (int, int) {
			r.CurrentStock -= qty
			return r.CurrentStock + qty, r.CurrentStock
		})
	if ok && hook != nil {
		hook(productID)
	}
	return ok, rec, err
}

func (m *memStockRepo) IncrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (*domain.StockRecord, error) {
	m.mu.Lock()
	err := m.incrementErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	_, rec, err := m.apply(ctx, productID, domain.MovementIn, qty, meta,
		func(*domain.StockRecord) bool { return true },
		func(r *domain.StockRecord) (int, int) {
			r.CurrentStock += qty
			return r.CurrentStock - qty, r.CurrentStock
		})
	return rec, err
}

func (m *memStockRepo) ReserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return m.apply(ctx, productID, domain.MovementReserved, qty, meta,
		func(r *domain.StockRecord) bool { return r.CurrentStock-r.ReservedStock >= qty },
		func(r *domain.StockRecord) (int, int) {
			r.ReservedStock += qty
			return r.ReservedStock - qty, r.ReservedStock
		})
}

func (m *memStockRepo) UnreserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return m.apply(ctx, productID, domain.MovementUnreserved, qty, meta,
		func(r *domain.StockRecord) bool { return r.ReservedStock >= qty },
		func(r *domain.StockRecord) (int, int) {
			r.ReservedStock -= qty
			return r.ReservedStock + qty, r.ReservedStock
		})
}

func (m *memStockRepo) CommitReservation(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return m.apply(ctx, productID, domain.MovementOut, qty, meta,
		func(r *domain.StockRecord) bool { return r.ReservedStock >= qty && r.CurrentStock >= qty },
		func(r *domain.StockRecord) (int, int) {
			r.CurrentStock -= qty
			r.ReservedStock -= qty
			return r.CurrentStock + qty, r.CurrentStock
		})
}

func (m *memStockRepo) AdjustStock(ctx context.Context, productID int64, delta int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return m.apply(ctx, productID, domain.MovementAdjustment, delta, meta,
		func(r *domain.StockRecord) bool { return r.CurrentStock+delta >= r.ReservedStock },
		func(r *domain.StockRecord) (int, int) {
			r.CurrentStock += delta
			return r.CurrentStock - delta, r.CurrentStock
		})
}

func (m *memStockRepo) apply(
	ctx context.Context,
	productID int64,
	typ domain.MovementType,
	qty int,
	meta domain.MovementMeta,
	cond func(*domain.StockRecord) bool,
	mutate func(*domain.StockRecord) (int, int),
) (bool, *domain.StockRecord, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[productID]
	if !ok {
		return false, nil, domain.ErrStockRecordNotFound
	}
	if !cond(rec) {
		cp := *rec
		cp.AvailableStock = cp.Available()
		return false, &cp, nil
	}
	prev, next := mutate(rec)
	rec.Version++
	rec.AvailableStock = rec.Available()
	m.record(productID, typ, qty, prev, next, meta)
	cp := *rec
	return true, &cp, nil
}

func (m *memStockRepo) record(productID int64, typ domain.MovementType, qty, prev, next int, meta domain.MovementMeta) {
	actor := meta.Actor
	if actor == "" {
		actor = "system"
	}
	m.movements = append(m.movements, &domain.StockMovement{
		ID:            int64(len(m.movements) + 1),
		ProductID:     productID,
		Type:          typ,
		Quantity:      qty,
		PreviousStock: prev,
		NewStock:      next,
		Reason:        meta.Reason,
		Reference:     meta.Reference,
		Actor:         actor,
		CreatedAt:     time.Now(),
	})
}

func (m *memStockRepo) ListMovements(ctx context.Context, req *domain.MovementListRequest) ([]*domain.StockMovement, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*domain.StockMovement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if req.ProductID == nil || mv.ProductID == *req.ProductID {
			matched = append(matched, mv)
		}
	}
	total := int64(len(matched))
	start := req.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + req.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *memStockRepo) ReplayMovements(ctx context.Context, productID int64) (int, error) {
	sum := 0
	for _, mv := range m.movementsFor(productID) {
		sum += mv.Delta()
	}
	return sum, nil
}

func (m *memStockRepo) Aggregate(ctx context.Context) (*domain.StockAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg := &domain.StockAggregate{TotalStockValue: decimal.Zero}
	for _, r := range m.records {
		agg.TotalProducts++
		agg.TotalStock += int64(r.CurrentStock)
		agg.TotalReservedStock += int64(r.ReservedStock)
		agg.TotalStockValue = agg.TotalStockValue.Add(r.StockValue())
		threshold := r.MinStockLevel
		if r.ReorderPoint > threshold {
			threshold = r.ReorderPoint
		}
		switch {
		case r.CurrentStock == 0:
			agg.OutOfStockProducts++
		case r.CurrentStock <= threshold:
			agg.LowStockProducts++
		}
	}
	return agg, nil
}

func (m *memStockRepo) TopMovers(ctx context.Context, since time.Time, limit int) ([]*domain.TopMover, error) {
	m.mu.Lock()
	byProduct := make(map[int64]*domain.TopMover)
	for _, mv := range m.movements {
		if mv.Type != domain.MovementOut || mv.CreatedAt.Before(since) {
			continue
		}
		tm, ok := byProduct[mv.ProductID]
		if !ok {
			tm = &domain.TopMover{ProductID: mv.ProductID}
			byProduct[mv.ProductID] = tm
		}
		tm.QuantityOut += int64(mv.Quantity)
		tm.Movements++
	}
	m.mu.Unlock()

	out := make([]*domain.TopMover, 0, len(byProduct))
	for _, tm := range byProduct {
		out = append(out, tm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QuantityOut != out[j].QuantityOut {
			return out[i].QuantityOut > out[j].QuantityOut
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memProductRepo 内存版商品目录
type memProductRepo struct {
	products map[int64]*domain.Product
}

func newMemProductRepo(products ...*domain.Product) *memProductRepo {
	m := &memProductRepo{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memProductRepo) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	return m.products[id], nil
}

func (m *memProductRepo) GetBySlug(_ context.Context, slug string) (*domain.Product, error) {
	for _, p := range m.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}

func (m *memProductRepo) GetByIDs(_ context.Context, ids []int64) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// memOrderRepo 内存版订单仓储
type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	nextID    int64
	createErr error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*domain.Order)}
}

func (m *memOrderRepo) Create(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	order.ID = m.nextID
	cp := *order
	m.orders[order.OrderNumber] = &cp
	return nil
}

func (m *memOrderRepo) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[number]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) UpdateStatus(ctx context.Context, number string, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[number]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrInvalidStatusTransition
	}
	o.Status = to
	return nil
}

func (m *memOrderRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// memAlertRepo 内存版告警仓储，每个商品最多一条未处理告警，每个告警周期最多一条告警
type memAlertRepo struct {
	mu      sync.Mutex
	alerts  []*domain.LowStockAlert
	cleared map[int64]bool // alert id
}

func (m *memAlertRepo) CreateIfAbsent(ctx context.Context, alert *domain.LowStockAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ProductID == alert.ProductID && (!a.IsResolved || !m.cleared[a.ID]) {
			return false, nil
		}
	}
	alert.ID = int64(len(m.alerts) + 1)
	cp := *alert
	m.alerts = append(m.alerts, &cp)
	return true, nil
}

func (m *memAlertRepo) Clear(ctx context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleared == nil {
		m.cleared = make(map[int64]bool)
	}
	var n int64
	for _, a := range m.alerts {
		if a.ProductID == productID && !m.cleared[a.ID] {
			m.cleared[a.ID] = true
			n++
		}
	}
	return n, nil
}

func (m *memAlertRepo) GetByID(ctx context.Context, id int64) (*domain.LowStockAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAlertNotFound
}

func (m *memAlertRepo) Resolve(ctx context.Context, id int64, resolvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID != id {
			continue
		}
		if a.IsResolved {
			return domain.ErrAlertAlreadyResolved
		}
		now := time.Now()
		a.IsResolved = true
		a.ResolvedBy = resolvedBy
		a.ResolvedAt = &now
		return nil
	}
	return domain.ErrAlertNotFound
}

func (m *memAlertRepo) List(ctx context.Context, req *domain.AlertListRequest) ([]*domain.LowStockAlert, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.LowStockAlert
	for _, a := range m.alerts {
		if a.IsResolved == req.Resolved {
			out = append(out, a)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memAlertRepo) CountUnresolved(ctx context.Context) (int64, error) {
	_, n, err := m.List(ctx, &domain.AlertListRequest{Resolved: false})
	return n, err
}

// memReservationRepo 内存版预占仓储
type memReservationRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Reservation
}

func newMemReservationRepo() *memReservationRepo {
	return &memReservationRepo{byID: make(map[string]*domain.Reservation)}
}

func (m *memReservationRepo) Create(ctx context.Context, r *domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *memReservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memReservationRepo) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	delete(m.byID, id)
	return ok, nil
}

func (m *memReservationRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Reservation
	for _, r := range m.byID {
		if !r.ExpiresAt.After(before) && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu        sync.Mutex
	movements []*domain.StockMovementEvent
	lowStock  []*domain.LowStockEvent
	orders    []*domain.OrderCreatedEvent
	err       error
}

func (p *recordingPublisher) PublishStockMovement(_ context.Context, evt *domain.StockMovementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.movements = append(p.movements, evt)
	return p.err
}

func (p *recordingPublisher) PublishLowStock(_ context.Context, evt *domain.LowStockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lowStock = append(p.lowStock, evt)
	return p.err
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, evt *domain.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, evt)
	return p.err
}

// stallingPublisher 入库事件一直阻塞到 ctx 结束，模拟不可用的消息代理
type stallingPublisher struct {
	NopPublisher
}

func (stallingPublisher) PublishStockMovement(ctx context.Context, evt *domain.StockMovementEvent) error {
	if evt.Type != domain.MovementIn {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}
