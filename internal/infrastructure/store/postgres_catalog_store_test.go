package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/coupon"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// ============================================
// Stock decrement
// ============================================

var decrementStockSQL = regexp.QuoteMeta(
	"SET stock_quantity = CASE WHEN track_inventory THEN GREATEST(stock_quantity - $2, 0) ELSE stock_quantity END",
) + ".*" + regexp.QuoteMeta("WHERE id = $1 RETURNING stock_quantity")

func TestPostgresCatalogStore_DecrementStock_ReturnsRemaining(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCatalogStore(db)

	mock.ExpectQuery(decrementStockSQL).
		WithArgs("prod-1", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}).AddRow(2))

	remaining, err := s.DecrementStock(context.Background(), "prod-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

func TestPostgresCatalogStore_DecrementStock_FloorReportsZero(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCatalogStore(db)

	mock.ExpectQuery(decrementStockSQL).
		WithArgs("prod-1", int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}).AddRow(0))

	remaining, err := s.DecrementStock(context.Background(), "prod-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestPostgresCatalogStore_DecrementStock_UnknownProduct(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCatalogStore(db)

	mock.ExpectQuery(decrementStockSQL).
		WithArgs("missing", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}))

	_, err := s.DecrementStock(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

func TestPostgresCatalogStore_DecrementStock_DatabaseError(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCatalogStore(db)

	mock.ExpectQuery(decrementStockSQL).
		WithArgs("prod-1", int64(1)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.DecrementStock(context.Background(), "prod-1", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, catalog.ErrProductNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

// ============================================
// Coupon usage
// ============================================

var incrementUsageSQL = regexp.QuoteMeta(
	"UPDATE coupons SET used_count = used_count + 1 WHERE id = $1 AND (max_uses = -1 OR used_count < max_uses)",
)

func TestPostgresCouponStore_IncrementUsage_UnderLimit(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCouponStore(db)

	mock.ExpectExec(incrementUsageSQL).
		WithArgs("coupon-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, s.IncrementUsage(context.Background(), "coupon-1"))
}

func TestPostgresCouponStore_IncrementUsage_LimitReached(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCouponStore(db)

	mock.ExpectExec(incrementUsageSQL).
		WithArgs("coupon-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.IncrementUsage(context.Background(), "coupon-1"), coupon.ErrUsageLimitReached)
}

func TestPostgresCouponStore_IncrementUsage_DatabaseError(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresCouponStore(db)

	mock.ExpectExec(incrementUsageSQL).
		WithArgs("coupon-1").
		WillReturnError(errors.New("deadlock detected"))

	err := s.IncrementUsage(context.Background(), "coupon-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, coupon.ErrUsageLimitReached)
}
