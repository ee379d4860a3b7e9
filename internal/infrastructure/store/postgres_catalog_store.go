package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/coupon"
)

type PostgresCatalogStore struct {
	db *sql.DB
}

func NewPostgresCatalogStore(db *sql.DB) *PostgresCatalogStore {
	return &PostgresCatalogStore{db: db}
}

func (s *PostgresCatalogStore) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, name, price, track_inventory, stock_quantity
		FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.TrackInventory, &p.StockQuantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return &p, nil
}

func (s *PostgresCatalogStore) GetSeller(ctx context.Context, id string) (*catalog.Seller, error) {
	var sl catalog.Seller
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_name, email, email_notifications, currency
		FROM sellers WHERE id = $1
	`, id).Scan(&sl.ID, &sl.StoreName, &sl.Email, &sl.EmailNotifications, &sl.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrSellerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load seller: %w", err)
	}
	return &sl, nil
}

func (s *PostgresCatalogStore) GetShippingMethod(ctx context.Context, id string) (*catalog.ShippingMethod, error) {
	var m catalog.ShippingMethod
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, cost, estimated_days
		FROM shipping_methods WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Cost, &m.EstimatedDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrShippingMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load shipping method: %w", err)
	}
	return &m, nil
}

// DecrementStock floors at zero in the database so concurrent checkouts
// never drive stock negative.
func (s *PostgresCatalogStore) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	var remaining int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = CASE WHEN track_inventory THEN GREATEST(stock_quantity - $2, 0) ELSE stock_quantity END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING stock_quantity
	`, productID, qty).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, catalog.ErrProductNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return remaining, nil
}

type PostgresCouponStore struct {
	db *sql.DB
}

func NewPostgresCouponStore(db *sql.DB) *PostgresCouponStore {
	return &PostgresCouponStore{db: db}
}

func (s *PostgresCouponStore) FindActiveByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		validFrom  sql.NullTime
		validUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, type, value, min_order_amount, max_uses, used_count, valid_from, valid_until, active
		FROM coupons WHERE UPPER(code) = $1 AND active
	`, coupon.NormalizeCode(code)).Scan(
		&c.ID, &c.Code, &c.Type, &c.Value, &c.MinOrderAmount, &c.MaxUses, &c.UsedCount, &validFrom, &validUntil, &c.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	c.ValidFrom = timePtr(validFrom)
	c.ValidUntil = timePtr(validUntil)
	return &c, nil
}

func (s *PostgresCouponStore) IncrementUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (max_uses = -1 OR used_count < max_uses)
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}
