package repo

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

func TestOrderRepo_Create(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewOrderRepository(db)

	order := &domain.Order{
		OrderNumber:  "ORD-20251018-ABCDEF12",
		UserID:       1,
		Subtotal:     decimal.NewFromInt(100),
		Shipping:     decimal.NewFromInt(60),
		Total:        decimal.NewFromInt(160),
		DeliveryArea: domain.DeliveryNear,
		Status:       domain.OrderStatusPending,
		PaymentInfo:  domain.PaymentInfo{Method: domain.PaymentCOD, Status: domain.PaymentStatusPending},
		Items: []domain.OrderItem{
			{ProductID: 1, Title: "Kettle", SKU: "K-1", Price: decimal.NewFromInt(50), Quantity: 2, TrackInventory: true},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(77, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(int64(77), int64(1), "Kettle", "K-1", sqlmock.AnyArg(), 2, true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Create(context.Background(), order))
	assert.Equal(t, int64(77), order.ID)
}

func TestOrderRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	num := "ORD-20251018-ABCDEF12"

	t.Run("transition applied", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE orders SET status").
			WithArgs("cancelled", num, "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := NewOrderRepository(db).UpdateStatus(ctx, num, domain.OrderStatusPending, domain.OrderStatusCancelled)
		require.NoError(t, err)
	})

	t.Run("concurrent change lost the race", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE orders SET status").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM orders").
			WithArgs(num).
			WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		err := NewOrderRepository(db).UpdateStatus(ctx, num, domain.OrderStatusPending, domain.OrderStatusCancelled)
		assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	})

	t.Run("unknown order", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("UPDATE orders SET status").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1 FROM orders").WillReturnRows(sqlmock.NewRows([]string{"1"}))

		err := NewOrderRepository(db).UpdateStatus(ctx, num, domain.OrderStatusPending, domain.OrderStatusCancelled)
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}
