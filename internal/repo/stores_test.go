package repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/shop_fulfillment/internal/cache"
	"github.com/MorseWayne/shop_fulfillment/internal/domain"
)

func TestCartStore(t *testing.T) {
	ctx := context.Background()
	s := NewCartStore(cache.NewMemoryCache(), time.Hour)

	empty, err := s.Get(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)

	cart := &domain.Cart{UserID: 9, Items: []domain.CartItem{{ProductID: 1, Quantity: 2}}}
	require.NoError(t, s.Save(ctx, cart))

	got, err := s.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, cart.Items, got.Items)

	require.NoError(t, s.Clear(ctx, 9))
	got, err = s.Get(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestReservationRepo(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip items", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewReservationRepository(db)
		expires := time.Now().Add(15 * time.Minute)

		mock.ExpectExec("INSERT INTO reservations").
			WithArgs("res-1", int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM reservations WHERE id").
			WithArgs("res-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "items", "expires_at"}).
				AddRow("res-1", 3, []byte(`[{"product_id":1,"quantity":2,"track_inventory":true}]`), expires))

		require.NoError(t, r.Create(ctx, &domain.Reservation{
			ID:        "res-1",
			UserID:    3,
			Items:     []domain.OrderItem{{ProductID: 1, Quantity: 2, TrackInventory: true}},
			ExpiresAt: expires,
		}))
		got, err := r.GetByID(ctx, "res-1")
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, 2, got.Items[0].Quantity)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("FROM reservations WHERE id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := NewReservationRepository(db).GetByID(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrReservationNotFound)
	})

	t.Run("delete reports winner", func(t *testing.T) {
		db, mock := newMockDB(t)
		r := NewReservationRepository(db)
		mock.ExpectExec("DELETE FROM reservations").WithArgs("res-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM reservations").WithArgs("res-1").WillReturnResult(sqlmock.NewResult(0, 0))

		first, err := r.Delete(ctx, "res-1")
		require.NoError(t, err)
		second, err := r.Delete(ctx, "res-1")
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)
	})
}
