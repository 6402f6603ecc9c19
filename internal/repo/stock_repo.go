// Package repo 实现库存台账、告警、订单与目录的数据访问层。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// StockRepository 定义库存台账数据访问接口。
// 所有对 current_stock / reserved_stock 的写入都必须经过这里的条件更新，
// 每次成功的变更在同一事务内追加一条库存流水。
type StockRepository interface {
	Create(ctx context.Context, rec *domain.StockRecord, meta domain.MovementMeta) error
	GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error)
	GetByProductIDs(ctx context.Context, productIDs []int64) ([]*domain.StockRecord, error)

	// 原子库存操作：ok=false 表示条件不满足（库存不足），此时 rec 为当前状态
	DecrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	IncrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (*domain.StockRecord, error)
	ReserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	UnreserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	CommitReservation(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)
	AdjustStock(ctx context.Context, productID int64, delta int, meta domain.MovementMeta) (bool, *domain.StockRecord, error)

	// 流水与统计
	ListMovements(ctx context.Context, req *domain.MovementListRequest) ([]*domain.StockMovement, int64, error)
	ReplayMovements(ctx context.Context, productID int64) (int, error)
	Aggregate(ctx context.Context) (*domain.StockAggregate, error)
	TopMovers(ctx context.Context, since time.Time, limit int) ([]*domain.TopMover, error)
}

const stockColumns = `id, product_id, current_stock, reserved_stock, available_stock, min_stock_level,
	reorder_point, max_stock_level, cost_price, selling_price, supplier, location, version, created_at, updated_at`

// casOp 描述一种单记录条件更新
type casOp struct {
	name     string
	movement domain.MovementType
	query    string
	args     func(productID int64, qty int) []interface{}
	// ledger 根据更新后的记录还原流水的前后值
	ledger func(rec *domain.StockRecord, qty int) (prev, next int)
}

var (
	decrementOp = casOp{
		name:     "decrement",
		movement: domain.MovementOut,
		query: `UPDATE stock_records
			SET current_stock = current_stock - ?, version = version + 1
			WHERE product_id = ? AND current_stock - reserved_stock >= ?`,
		args: func(id int64, qty int) []interface{} { return []interface{}{qty, id, qty} },
		ledger: func(rec *domain.StockRecord, qty int) (int, int) {
			return rec.CurrentStock + qty, rec.CurrentStock
		},
	}
	incrementOp = casOp{
		name:     "increment",
		movement: domain.MovementIn,
		query: `UPDATE stock_records
			SET current_stock = current_stock + ?, version = version + 1
			WHERE product_id = ?`,
		args: func(id int64, qty int) []interface{} { return []interface{}{qty, id} },
		ledger: func(rec *domain.StockRecord, qty int) (int, int) {
			return rec.CurrentStock - qty, rec.CurrentStock
		},
	}
	reserveOp = casOp{
		name:     "reserve",
		movement: domain.MovementReserved,
		query: `UPDATE stock_records
			SET reserved_stock = reserved_stock + ?, version = version + 1
			WHERE product_id = ? AND current_stock - reserved_stock >= ?`,
		args: func(id int64, qty int) []interface{} { return []interface{}{qty, id, qty} },
		ledger: func(rec *domain.StockRecord, qty int) (int, int) {
			return rec.ReservedStock - qty, rec.ReservedStock
		},
	}
	unreserveOp = casOp{
		name:     "unreserve",
		movement: domain.MovementUnreserved,
		query: `UPDATE stock_records
			SET reserved_stock = reserved_stock - ?, version = version + 1
			WHERE product_id = ? AND reserved_stock >= ?`,
		args: func(id int64, qty int) []interface{} { return []interface{}{qty, id, qty} },
		ledger: func(rec *domain.StockRecord, qty int) (int, int) {
			return rec.ReservedStock + qty, rec.ReservedStock
		},
	}
	commitOp = casOp{
		name:     "commit reservation",
		movement: domain.MovementOut,
		query: `UPDATE stock_records
			SET current_stock = current_stock - ?, reserved_stock = reserved_stock - ?, version = version + 1
			WHERE product_id = ? AND reserved_stock >= ? AND current_stock >= ?`,
		args: func(id int64, qty int) []interface{} { return []interface{}{qty, qty, id, qty, qty} },
		ledger: func(rec *domain.StockRecord, qty int) (int, int) {
			return rec.CurrentStock + qty, rec.CurrentStock
		},
	}
	adjustOp = casOp{
		name:     "adjust",
		movement: domain.MovementAdjustment,
		query: `UPDATE stock_records
			SET current_stock = current_stock + ?, version = version + 1
			WHERE product_id = ? AND current_stock + ? >= reserved_stock`,
		args: func(id int64, delta int) []interface{} { return []interface{}{delta, id, delta} },
		ledger: func(rec *domain.StockRecord, delta int) (int, int) {
			return rec.CurrentStock - delta, rec.CurrentStock
		},
	}
)

// stockRepo 实现 StockRepository 接口
type stockRepo struct {
	db *sql.DB
}

// NewStockRepository 创建库存台账仓储实例
func NewStockRepository(db *sql.DB) StockRepository {
	return &stockRepo{db: db}
}

// Create 创建库存台账，初始库存记为一条 in 流水
func (r *stockRepo) Create(ctx context.Context, rec *domain.StockRecord, meta domain.MovementMeta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO stock_records (product_id, current_stock, reserved_stock, min_stock_level, reorder_point,
			max_stock_level, cost_price, selling_price, supplier, location)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		rec.ProductID, rec.CurrentStock, rec.MinStockLevel, rec.ReorderPoint,
		rec.MaxStockLevel, rec.CostPrice, rec.SellingPrice, rec.Supplier, rec.Location,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrStockRecordExists
		}
		return fmt.Errorf("failed to create stock record: %w", err)
	}
	if rec.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get stock record id: %w", err)
	}

	if rec.CurrentStock > 0 {
		m := &domain.StockMovement{
			ProductID:     rec.ProductID,
			Type:          domain.MovementIn,
			Quantity:      rec.CurrentStock,
			PreviousStock: 0,
			NewStock:      rec.CurrentStock,
			Reason:        meta.Reason,
			Reference:     meta.Reference,
			Actor:         meta.Actor,
		}
		if err := insertMovement(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stock record: %w", err)
	}
	rec.ReservedStock = 0
	rec.AvailableStock = rec.CurrentStock
	return nil
}

// GetByProductID 根据商品ID获取库存台账
func (r *stockRepo) GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	return getStockRecord(ctx, r.db, productID)
}

// GetByProductIDs 批量获取库存台账
func (r *stockRepo) GetByProductIDs(ctx context.Context, productIDs []int64) ([]*domain.StockRecord, error) {
	if len(productIDs) == 0 {
		return []*domain.StockRecord{}, nil
	}

	placeholders, args := inClause(productIDs)
	query := fmt.Sprintf(`SELECT %s FROM stock_records WHERE product_id IN (%s) ORDER BY product_id`, stockColumns, placeholders)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock records: %w", err)
	}
	defer rows.Close()

	var records []*domain.StockRecord
	for rows.Next() {
		rec, err := scanStockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DecrementStock 仅当可售库存 >= qty 时扣减实物库存
func (r *stockRepo) DecrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return r.apply(ctx, decrementOp, productID, qty, meta)
}

// IncrementStock 无条件增加实物库存，用于补货与补偿
func (r *stockRepo) IncrementStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (*domain.StockRecord, error) {
	_, rec, err := r.apply(ctx, incrementOp, productID, qty, meta)
	return rec, err
}

// ReserveStock 仅当可售库存 >= qty 时增加预占
func (r *stockRepo) ReserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return r.apply(ctx, reserveOp, productID, qty, meta)
}

// UnreserveStock 仅当预占 >= qty 时释放预占
func (r *stockRepo) UnreserveStock(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return r.apply(ctx, unreserveOp, productID, qty, meta)
}

// CommitReservation 将预占转为实际扣减
func (r *stockRepo) CommitReservation(ctx context.Context, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return r.apply(ctx, commitOp, productID, qty, meta)
}

// AdjustStock 盘点调整，调整后实物库存不得低于预占
func (r *stockRepo) AdjustStock(ctx context.Context, productID int64, delta int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	return r.apply(ctx, adjustOp, productID, delta, meta)
}

// apply 在一个短事务内执行条件更新、读取新值并写入流水
func (r *stockRepo) apply(ctx context.Context, op casOp, productID int64, qty int, meta domain.MovementMeta) (bool, *domain.StockRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin %s transaction: %w", op.name, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, op.query, op.args(productID, qty)...)
	if err != nil {
		return false, nil, fmt.Errorf("failed to %s stock: %w", op.name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	rec, err := getStockRecord(ctx, tx, productID)
	if err != nil {
		return false, nil, err
	}
	if affected == 0 {
		// 记录存在但条件不满足
		return false, rec, nil
	}

	prev, next := op.ledger(rec, qty)
	m := &domain.StockMovement{
		ProductID:     productID,
		Type:          op.movement,
		Quantity:      qty,
		PreviousStock: prev,
		NewStock:      next,
		Reason:        meta.Reason,
		Reference:     meta.Reference,
		Actor:         meta.Actor,
	}
	if err := insertMovement(ctx, tx, m); err != nil {
		return false, nil, err
	}

	if err := tx.Commit(); err != nil {
		return false, nil, fmt.Errorf("failed to commit %s: %w", op.name, err)
	}
	return true, rec, nil
}

// ListMovements 分页查询库存流水，按时间倒序
func (r *stockRepo) ListMovements(ctx context.Context, req *domain.MovementListRequest) ([]*domain.StockMovement, int64, error) {
	req.Normalize()

	where := ""
	var args []interface{}
	if req.ProductID != nil {
		where = "WHERE product_id = ?"
		args = append(args, *req.ProductID)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stock_movements "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count stock movements: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, product_id, type, quantity, previous_stock, new_stock, reason, reference, actor, created_at
		FROM stock_movements %s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, where)
	rows, err := r.db.QueryContext(ctx, query, append(args, req.Limit, req.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	movements := make([]*domain.StockMovement, 0, req.Limit)
	for rows.Next() {
		m := &domain.StockMovement{}
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.PreviousStock, &m.NewStock,
			&m.Reason, &m.Reference, &m.Actor, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

// ReplayMovements 通过回放流水计算实物库存
func (r *stockRepo) ReplayMovements(ctx context.Context, productID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(CASE type
			WHEN 'in' THEN quantity
			WHEN 'adjustment' THEN quantity
			WHEN 'out' THEN -quantity
			ELSE 0 END), 0)
		FROM stock_movements
		WHERE product_id = ?
	`
	var replayed int
	if err := r.db.QueryRowContext(ctx, query, productID).Scan(&replayed); err != nil {
		return 0, fmt.Errorf("failed to replay stock movements: %w", err)
	}
	return replayed, nil
}

// Aggregate 汇总库存台账
func (r *stockRepo) Aggregate(ctx context.Context) (*domain.StockAggregate, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(current_stock), 0),
			COALESCE(SUM(reserved_stock), 0),
			COALESCE(SUM(current_stock * cost_price), 0),
			COALESCE(SUM(CASE WHEN current_stock > 0
				AND current_stock <= GREATEST(min_stock_level, reorder_point) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN current_stock = 0 THEN 1 ELSE 0 END), 0)
		FROM stock_records
	`
	agg := &domain.StockAggregate{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&agg.TotalProducts,
		&agg.TotalStock,
		&agg.TotalReservedStock,
		&agg.TotalStockValue,
		&agg.LowStockProducts,
		&agg.OutOfStockProducts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stock records: %w", err)
	}
	return agg, nil
}

// TopMovers 统计窗口期内出库量最大的商品
func (r *stockRepo) TopMovers(ctx context.Context, since time.Time, limit int) ([]*domain.TopMover, error) {
	query := `
		SELECT product_id, SUM(quantity) AS moved, COUNT(*)
		FROM stock_movements
		WHERE type = 'out' AND created_at >= ?
		GROUP BY product_id
		ORDER BY moved DESC, product_id
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top movers: %w", err)
	}
	defer rows.Close()

	var movers []*domain.TopMover
	for rows.Next() {
		m := &domain.TopMover{}
		if err := rows.Scan(&m.ProductID, &m.QuantityOut, &m.Movements); err != nil {
			return nil, fmt.Errorf("failed to scan top mover: %w", err)
		}
		movers = append(movers, m)
	}
	return movers, rows.Err()
}

// queryRower 同时适配 *sql.DB 与 *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func getStockRecord(ctx context.Context, q queryRower, productID int64) (*domain.StockRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM stock_records WHERE product_id = ?`, stockColumns)
	rec, err := scanStockRecord(q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStockRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock record: %w", err)
	}
	return rec, nil
}

func scanStockRecord(row rowScanner) (*domain.StockRecord, error) {
	rec := &domain.StockRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.CurrentStock,
		&rec.ReservedStock,
		&rec.AvailableStock,
		&rec.MinStockLevel,
		&rec.ReorderPoint,
		&rec.MaxStockLevel,
		&rec.CostPrice,
		&rec.SellingPrice,
		&rec.Supplier,
		&rec.Location,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, m *domain.StockMovement) error {
	query := `
		INSERT INTO stock_movements (product_id, type, quantity, previous_stock, new_stock, reason, reference, actor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	actor := m.Actor
	if actor == "" {
		actor = "system"
	}
	result, err := tx.ExecContext(ctx, query,
		m.ProductID, m.Type, m.Quantity, m.PreviousStock, m.NewStock, m.Reason, m.Reference, actor)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	m.ID, _ = result.LastInsertId()
	return nil
}

func inClause(ids []int64) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.Repeat("?,", len(ids)-1) + "?", args
}
