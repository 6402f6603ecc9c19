package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

// ReservationRepository 预占记录持久化。预占数量本身记在库存台账，
// 这里只保存释放或确认时需要的订单行快照。
type ReservationRepository interface {
	Create(ctx context.Context, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	// Delete 删除预占记录，返回是否真正删除；并发确认与释放时只有一方能拿到 true
	Delete(ctx context.Context, id string) (bool, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error)
}

type reservationRepo struct {
	db *sql.DB
}

// NewReservationRepository 创建预占仓储实例
func NewReservationRepository(db *sql.DB) ReservationRepository {
	return &reservationRepo{db: db}
}

// Create 写入预占记录
func (r *reservationRepo) Create(ctx context.Context, res *domain.Reservation) error {
	items, err := json.Marshal(res.Items)
	if err != nil {
		return fmt.Errorf("failed to encode reservation items: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, items, expires_at) VALUES (?, ?, ?, ?)`,
		res.ID, res.UserID, items, res.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// GetByID 根据ID获取预占记录
func (r *reservationRepo) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, user_id, items, expires_at FROM reservations WHERE id = ?`, id)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

// Delete 删除预占记录
func (r *reservationRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// ListExpired 查询已过期的预占
func (r *reservationRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, items, expires_at
		FROM reservations
		WHERE expires_at <= ?
		ORDER BY expires_at
		LIMIT ?
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var items []byte
	if err := row.Scan(&res.ID, &res.UserID, &items, &res.ExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &res.Items); err != nil {
		return nil, fmt.Errorf("decode reservation %s items: %w", res.ID, err)
	}
	return res, nil
}
