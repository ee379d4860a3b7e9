package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/marketplace/internal/domain/order"
)

type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

const orderColumns = `id, seller_id, customer_id, customer_name, customer_contact, customer_email, description,
	items, status, status_history, coupon_code, subtotal, discount_amount, shipping_method_id, shipping_cost,
	total, currency, payment_method, shipping_address, billing_address, notes, tracking_token,
	estimated_delivery, created_at`

func (s *PostgresOrderStore) Create(ctx context.Context, o *order.Order) error {
	items, err := jsonValue(o.Items)
	if err != nil {
		return err
	}
	history, err := jsonValue(o.StatusHistory)
	if err != nil {
		return err
	}
	shipping, err := jsonValue(o.ShippingAddress)
	if err != nil {
		return err
	}
	var billing sql.NullString
	if o.BillingAddress != nil {
		if billing.String, err = jsonValue(o.BillingAddress); err != nil {
			return err
		}
		billing.Valid = true
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`,
		o.ID, o.SellerID, nullString(o.CustomerID), o.CustomerName, o.CustomerContact, o.CustomerEmail, o.Description,
		items, o.Status, history, nullString(o.CouponCode), o.Subtotal, o.DiscountAmount, nullString(o.ShippingMethodID), o.ShippingCost,
		o.Total, o.Currency, o.PaymentMethod, shipping, billing, o.Notes, o.TrackingToken,
		nullTime(o.EstimatedDelivery), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *PostgresOrderStore) GetByTrackingToken(ctx context.Context, token string) (*order.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_token = $1`, token))
}

// AppendStatus updates the status and appends to the JSONB history in one
// statement.
func (s *PostgresOrderStore) AppendStatus(ctx context.Context, id string, change order.StatusChange) error {
	entry, err := jsonValue([]order.StatusChange{change})
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, status_history = status_history || $3::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, change.Status, entry)
	if err != nil {
		return fmt.Errorf("failed to append order status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o                             order.Order
		customerID, couponCode, shipM sql.NullString
		items, history, shipping      []byte
		billing                       []byte
		estimated                     sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.SellerID, &customerID, &o.CustomerName, &o.CustomerContact, &o.CustomerEmail, &o.Description,
		&items, &o.Status, &history, &couponCode, &o.Subtotal, &o.DiscountAmount, &shipM, &o.ShippingCost,
		&o.Total, &o.Currency, &o.PaymentMethod, &shipping, &billing, &o.Notes, &o.TrackingToken,
		&estimated, &o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	o.CustomerID = customerID.String
	o.CouponCode = couponCode.String
	o.ShippingMethodID = shipM.String
	o.EstimatedDelivery = timePtr(estimated)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if err := json.Unmarshal(history, &o.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to decode order history: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if len(billing) > 0 {
		o.BillingAddress = &order.Address{}
		if err := json.Unmarshal(billing, o.BillingAddress); err != nil {
			return nil, fmt.Errorf("failed to decode billing address: %w", err)
		}
	}
	return &o, nil
}
