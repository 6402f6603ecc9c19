package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// OrderRepository 定义订单数据访问接口
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// UpdateStatus 以 from 为前置条件更新状态，并发下同一流转只会成功一次
	UpdateStatus(ctx context.Context, orderNumber string, from, to domain.OrderStatus) error
}

type orderRepo struct {
	db *sql.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepo{db: db}
}

// Create 在一个事务内写入订单与订单行
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (order_number, user_id, subtotal, shipping, total, delivery_area, status,
			payment_method, payment_status, reservation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var reservationID sql.NullString
	if order.ReservationID != "" {
		reservationID = sql.NullString{String: order.ReservationID, Valid: true}
	}
	result, err := tx.ExecContext(ctx, query,
		order.OrderNumber, order.UserID, order.Subtotal, order.Shipping, order.Total, order.DeliveryArea,
		order.Status, order.PaymentInfo.Method, order.PaymentInfo.Status, reservationID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if order.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get order id: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, title, sku, price, quantity, track_inventory)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, it := range order.Items {
		if _, err := tx.ExecContext(ctx, itemQuery,
			order.ID, it.ProductID, it.Title, it.SKU, it.Price, it.Quantity, it.TrackInventory); err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", it.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetByNumber 根据订单号获取订单及订单行
func (r *orderRepo) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := `
		SELECT id, order_number, user_id, subtotal, shipping, total, delivery_area, status,
			payment_method, payment_status, reservation_id, created_at, updated_at
		FROM orders WHERE order_number = ?
	`
	order := &domain.Order{}
	var reservationID sql.NullString
	err := r.db.QueryRowContext(ctx, query, orderNumber).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Subtotal,
		&order.Shipping,
		&order.Total,
		&order.DeliveryArea,
		&order.Status,
		&order.PaymentInfo.Method,
		&order.PaymentInfo.Status,
		&reservationID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.ReservationID = reservationID.String

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, title, sku, price, quantity, track_inventory
		FROM order_items WHERE order_id = ? ORDER BY id
	`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Title, &it.SKU, &it.Price, &it.Quantity, &it.TrackInventory); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, it)
	}
	return order, rows.Err()
}

// UpdateStatus 条件更新订单状态
func (r *orderRepo) UpdateStatus(ctx context.Context, orderNumber string, from, to domain.OrderStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE order_number = ? AND status = ?`, to, orderNumber, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE order_number = ?`, orderNumber).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		return domain.ErrInvalidStatusTransition
	}
	return nil
}
