package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func stockRows(productID int64, current, reserved int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "product_id", "current_stock", "reserved_stock", "available_stock", "min_stock_level",
		"reorder_point", "max_stock_level", "cost_price", "selling_price", "supplier", "location",
		"version", "created_at", "updated_at",
	}).AddRow(1, productID, current, reserved, current-reserved, 5, 2, 100, "10.00", "15.50", "acme", "A1", 3, now, now)
}

func TestStockRepo_DecrementStock(t *testing.T) {
	ctx := context.Background()
	meta := domain.MovementMeta{Reason: "checkout", Reference: "ORD-1", Actor: "alice"}

	t.Run("sufficient stock writes out movement", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_records").
			WithArgs(2, int64(7), 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM stock_records WHERE product_id").
			WithArgs(int64(7)).
			WillReturnRows(stockRows(7, 3, 0))
		mock.ExpectExec("INSERT INTO stock_movements").
			WithArgs(int64(7), "out", 2, 5, 3, "checkout", "ORD-1", "alice").
			WillReturnResult(sqlmock.NewResult(11, 1))
		mock.ExpectCommit()

		ok, rec, err := r.DecrementStock(ctx, 7, 2, meta)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, rec.CurrentStock)
		assert.Equal(t, 3, rec.AvailableStock)
		assert.Equal(t, "10", rec.CostPrice.String())
	})

	t.Run("insufficient stock leaves ledger untouched", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_records").
			WithArgs(4, int64(7), 4).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM stock_records WHERE product_id").
			WithArgs(int64(7)).
			WillReturnRows(stockRows(7, 3, 0))
		mock.ExpectRollback()

		ok, rec, err := r.DecrementStock(ctx, 7, 4, meta)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 3, rec.Available())
	})

	t.Run("missing record", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM stock_records WHERE product_id").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, _, err := r.DecrementStock(ctx, 99, 1, meta)
		assert.ErrorIs(t, err, domain.ErrStockRecordNotFound)
	})

	t.Run("movement insert failure rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE stock_records").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM stock_records WHERE product_id").WillReturnRows(stockRows(7, 3, 0))
		mock.ExpectExec("INSERT INTO stock_movements").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, _, err := r.DecrementStock(ctx, 7, 2, meta)
		assert.ErrorContains(t, err, "disk full")
	})
}

func TestStockRepo_ReleaseAndRestoreOps(t *testing.T) {
	ctx := context.Background()
	meta := domain.MovementMeta{Reason: "order cancelled", Reference: "ORD-9", Actor: "system"}

	tests := []struct {
		name     string
		query    string
		args     []driver.Value
		after    *sqlmock.Rows
		affected int64
		movement string
		prev     int
		next     int
		call     func(r StockRepository) (bool, *domain.StockRecord, error)
	}{
		{
			name:     "increment records in movement",
			query:    "SET current_stock = current_stock \\+ \\?, version = version \\+ 1 WHERE product_id = \\?$",
			args:     []driver.Value{4, int64(5)},
			after:    stockRows(5, 14, 2),
			affected: 1,
			movement: "in",
			prev:     10,
			next:     14,
			call: func(r StockRepository) (bool, *domain.StockRecord, error) {
				rec, err := r.IncrementStock(ctx, 5, 4, meta)
				return err == nil, rec, err
			},
		},
		{
			name:     "unreserve records unreserved movement",
			query:    "SET reserved_stock = reserved_stock - \\?, version = version \\+ 1 WHERE product_id = \\? AND reserved_stock >= \\?$",
			args:     []driver.Value{3, int64(5), 3},
			after:    stockRows(5, 10, 1),
			affected: 1,
			movement: "unreserved",
			prev:     4,
			next:     1,
			call: func(r StockRepository) (bool, *domain.StockRecord, error) {
				return r.UnreserveStock(ctx, 5, 3, meta)
			},
		},
		{
			name:     "commit records out movement",
			query:    "SET current_stock = current_stock - \\?, reserved_stock = reserved_stock - \\?, version = version \\+ 1 WHERE product_id = \\? AND reserved_stock >= \\? AND current_stock >= \\?$",
			args:     []driver.Value{2, 2, int64(5), 2, 2},
			after:    stockRows(5, 8, 1),
			affected: 1,
			movement: "out",
			prev:     10,
			next:     8,
			call: func(r StockRepository) (bool, *domain.StockRecord, error) {
				return r.CommitReservation(ctx, 5, 2, meta)
			},
		},
		{
			name:     "unreserve beyond reserved is rejected",
			query:    "AND reserved_stock >= \\?$",
			args:     []driver.Value{5, int64(5), 5},
			after:    stockRows(5, 10, 1),
			affected: 0,
			call: func(r StockRepository) (bool, *domain.StockRecord, error) {
				return r.UnreserveStock(ctx, 5, 5, meta)
			},
		},
		{
			name:     "commit beyond reserved is rejected",
			query:    "AND reserved_stock >= \\? AND current_stock >= \\?$",
			args:     []driver.Value{3, 3, int64(5), 3, 3},
			after:    stockRows(5, 10, 1),
			affected: 0,
			call: func(r StockRepository) (bool, *domain.StockRecord, error) {
				return r.CommitReservation(ctx, 5, 3, meta)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			r := NewStockRepository(db)

			mock.ExpectBegin()
			mock.ExpectExec(tt.query).
				WithArgs(tt.args...).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectQuery("FROM stock_records WHERE product_id").
				WithArgs(int64(5)).
				WillReturnRows(tt.after)
			if tt.affected == 0 {
				mock.ExpectRollback()
			} else {
				mock.ExpectExec("INSERT INTO stock_movements").
					WithArgs(int64(5), tt.movement, tt.args[0], tt.prev, tt.next, "order cancelled", "ORD-9", "system").
					WillReturnResult(sqlmock.NewResult(21, 1))
				mock.ExpectCommit()
			}

			ok, rec, err := tt.call(r)
			require.NoError(t, err)
			assert.Equal(t, tt.affected == 1, ok)
			require.NotNil(t, rec)
			assert.Equal(t, int64(5), rec.ProductID)
		})
	}
}

func TestStockRepo_ReserveStock_RecordsReservedCounter(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewStockRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("SET reserved_stock = reserved_stock \\+ \\?").
		WithArgs(3, int64(5), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM stock_records WHERE product_id").WillReturnRows(stockRows(5, 10, 3))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(5), "reserved", 3, 0, 3, "", "res-1", "system").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ok, rec, err := r.ReserveStock(context.Background(), 5, 3, domain.MovementMeta{Reference: "res-1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, rec.AvailableStock)
}

func TestStockRepo_AdjustStock_Negative(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewStockRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("current_stock \\+ \\? >= reserved_stock").
		WithArgs(-4, int64(5), -4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM stock_records WHERE product_id").WillReturnRows(stockRows(5, 6, 0))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(int64(5), "adjustment", -4, 10, 6, "cycle count", "", "bob").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ok, _, err := r.AdjustStock(context.Background(), 5, -4, domain.MovementMeta{Reason: "cycle count", Actor: "bob"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStockRepo_Create(t *testing.T) {
	t.Run("writes initial in movement", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stock_records").WillReturnResult(sqlmock.NewResult(42, 1))
		mock.ExpectExec("INSERT INTO stock_movements").
			WithArgs(int64(3), "in", 20, 0, 20, "initial stock", "", "admin").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		rec := &domain.StockRecord{ProductID: 3, CurrentStock: 20}
		err := r.Create(context.Background(), rec, domain.MovementMeta{Reason: "initial stock", Actor: "admin"})
		require.NoError(t, err)
		assert.Equal(t, int64(42), rec.ID)
		assert.Equal(t, 20, rec.AvailableStock)
	})

	t.Run("duplicate product", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewStockRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO stock_records").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
		mock.ExpectRollback()

		err := r.Create(context.Background(), &domain.StockRecord{ProductID: 3}, domain.MovementMeta{})
		assert.ErrorIs(t, err, domain.ErrStockRecordExists)
	})
}

func TestStockRepo_ReplayMovements(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewStockRepository(db)

	mock.ExpectQuery("FROM stock_movements").
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"replayed"}).AddRow(17))

	n, err := r.ReplayMovements(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, 17, n)
}

func TestStockRepo_ListMovements(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewStockRepository(db)
	pid := int64(8)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM stock_movements WHERE product_id").
		WithArgs(pid).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(pid, 100, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "product_id", "type", "quantity", "previous_stock", "new_stock", "reason", "reference", "actor", "created_at",
		}).AddRow(1, pid, "out", 2, 5, 3, "checkout", "ORD-1", "alice", time.Now()))

	req := &domain.MovementListRequest{ProductID: &pid, Limit: 500}
	items, total, err := r.ListMovements(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, domain.MovementOut, items[0].Type)
	assert.Equal(t, -2, items[0].Delta())
}
