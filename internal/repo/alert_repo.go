package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// AlertRepository 定义低库存告警数据访问接口
type AlertRepository interface {
	// CreateIfAbsent 仅当该商品没有未处理告警、且当前告警周期内未告警过时创建，返回是否新建
	CreateIfAbsent(ctx context.Context, alert *domain.LowStockAlert) (bool, error)
	// Clear 结束商品的告警周期，库存回到正常水平时调用，返回受影响的告警数
	Clear(ctx context.Context, productID int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.LowStockAlert, error)
	Resolve(ctx context.Context, id int64, resolvedBy string) error
	List(ctx context.Context, req *domain.AlertListRequest) ([]*domain.LowStockAlert, int64, error)
	CountUnresolved(ctx context.Context) (int64, error)
}

type alertRepo struct {
	db *sql.DB
}

// NewAlertRepository 创建告警仓储实例
func NewAlertRepository(db *sql.DB) AlertRepository {
	return &alertRepo{db: db}
}

// CreateIfAbsent 依赖 unresolved_product_id 与 episode_product_id 两个唯一索引，
// 已有未处理告警或本周期已告警过时 INSERT IGNORE 为空操作
func (r *alertRepo) CreateIfAbsent(ctx context.Context, alert *domain.LowStockAlert) (bool, error) {
	query := `INSERT IGNORE INTO low_stock_alerts (product_id, current_stock, severity) VALUES (?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query, alert.ProductID, alert.CurrentStock, alert.Severity)
	if err != nil {
		return false, fmt.Errorf("failed to create low stock alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	alert.ID, _ = result.LastInsertId()
	return true, nil
}

// Clear 关闭告警周期，下次跌入告警区间时才会重新告警
func (r *alertRepo) Clear(ctx context.Context, productID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE low_stock_alerts SET cleared = 1 WHERE episode_product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear low stock alerts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// GetByID 根据ID获取告警
func (r *alertRepo) GetByID(ctx context.Context, id int64) (*domain.LowStockAlert, error) {
	query := `
		SELECT id, product_id, current_stock, severity, is_resolved, resolved_by, resolved_at, created_at
		FROM low_stock_alerts WHERE id = ?
	`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// Resolve 标记告警已处理
func (r *alertRepo) Resolve(ctx context.Context, id int64, resolvedBy string) error {
	query := `
		UPDATE low_stock_alerts
		SET is_resolved = 1, resolved_by = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_resolved = 0
	`
	result, err := r.db.ExecContext(ctx, query, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// 区分不存在与已处理
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrAlertAlreadyResolved
}

// List 分页查询告警
func (r *alertRepo) List(ctx context.Context, req *domain.AlertListRequest) ([]*domain.LowStockAlert, int64, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM low_stock_alerts WHERE is_resolved = ?`, req.Resolved).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `
		SELECT id, product_id, current_stock, severity, is_resolved, resolved_by, resolved_at, created_at
		FROM low_stock_alerts
		WHERE is_resolved = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, req.Resolved, req.Limit, (req.Page-1)*req.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*domain.LowStockAlert, 0, req.Limit)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

// CountUnresolved 统计未处理告警数量
func (r *alertRepo) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM low_stock_alerts WHERE is_resolved = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unresolved alerts: %w", err)
	}
	return n, nil
}

func scanAlert(row rowScanner) (*domain.LowStockAlert, error) {
	alert := &domain.LowStockAlert{}
	var resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&alert.ID,
		&alert.ProductID,
		&alert.CurrentStock,
		&alert.Severity,
		&alert.IsResolved,
		&resolvedBy,
		&resolvedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	return alert, nil
}
