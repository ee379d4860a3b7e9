package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace/internal/domain/payment"
)

type PostgresPaymentStore struct {
	db *sql.DB
}

func NewPostgresPaymentStore(db *sql.DB) *PostgresPaymentStore {
	return &PostgresPaymentStore{db: db}
}

const paymentColumns = `id, order_id, seller_id, customer_id, method, provider, status, amount, fees, net_amount,
	currency, payer_phone, payer_name, payer_email, external_id, external_reference, confirmation_code,
	metadata, created_at, updated_at, processed_at, completed_at, failed_at`

func (s *PostgresPaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	metadata, err := jsonValue(p.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`,
		p.ID, p.OrderID, p.SellerID, nullString(p.CustomerID), p.Method, p.Provider, p.Status, p.Amount, p.Fees, p.NetAmount,
		p.Currency, p.PayerPhone, p.PayerName, p.PayerEmail, nullString(p.ExternalID), nullString(p.ExternalReference), p.ConfirmationCode,
		metadata, p.CreatedAt, p.UpdatedAt, nullTime(p.ProcessedAt), nullTime(p.CompletedAt), nullTime(p.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *PostgresPaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (s *PostgresPaymentStore) FindByExternalReference(ctx context.Context, ref string) (*payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_reference = $1`, ref))
}

func (s *PostgresPaymentStore) FindByExternalID(ctx context.Context, externalID string) (*payment.Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID))
}

func (s *PostgresPaymentStore) Update(ctx context.Context, p *payment.Payment) error {
	metadata, err := jsonValue(p.Metadata)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, provider = $3, payer_phone = $4, confirmation_code = $5, metadata = $6,
		    updated_at = $7, processed_at = $8, completed_at = $9, failed_at = $10
		WHERE id = $1
	`, p.ID, p.Status, p.Provider, p.PayerPhone, p.ConfirmationCode, metadata,
		p.UpdatedAt, nullTime(p.ProcessedAt), nullTime(p.CompletedAt), nullTime(p.FailedAt))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresPaymentStore) SetExternalIDs(ctx context.Context, id, externalID, externalRef string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET external_id = COALESCE(external_id, NULLIF($2, '')),
		    external_reference = COALESCE(external_reference, NULLIF($3, '')),
		    updated_at = NOW()
		WHERE id = $1
	`, id, externalID, externalRef)
	if err != nil {
		return fmt.Errorf("failed to set external ids: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresPaymentStore) ListBySeller(ctx context.Context, sellerID string, from, to *time.Time) ([]*payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE seller_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at
	`, sellerID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var list []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPayment(row rowScanner) (*payment.Payment, error) {
	var (
		p                            payment.Payment
		customerID, extID, extRef    sql.NullString
		metadata                     []byte
		processed, completed, failed sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.SellerID, &customerID, &p.Method, &p.Provider, &p.Status, &p.Amount, &p.Fees, &p.NetAmount,
		&p.Currency, &p.PayerPhone, &p.PayerName, &p.PayerEmail, &extID, &extRef, &p.ConfirmationCode,
		&metadata, &p.CreatedAt, &p.UpdatedAt, &processed, &completed, &failed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	p.CustomerID = customerID.String
	p.ExternalID = extID.String
	p.ExternalReference = extRef.String
	p.ProcessedAt = timePtr(processed)
	p.CompletedAt = timePtr(completed)
	p.FailedAt = timePtr(failed)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
		}
	}
	return &p, nil
}

type PostgresHistoryStore struct {
	db *sql.DB
}

func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (s *PostgresHistoryStore) Append(ctx context.Context, entry payment.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_status_history (id, payment_id, status, previous_status, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.PaymentID, entry.Status, nullString(string(entry.PreviousStatus)), entry.Reason, entry.Actor, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment history: %w", err)
	}
	return nil
}

func (s *PostgresHistoryStore) List(ctx context.Context, paymentID string) ([]payment.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, status, previous_status, reason, actor, created_at
		FROM payment_status_history
		WHERE payment_id = $1
		ORDER BY created_at, seq
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	defer rows.Close()

	var entries []payment.HistoryEntry
	for rows.Next() {
		var (
			e    payment.HistoryEntry
			prev sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Status, &prev, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PreviousStatus = payment.Status(prev.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type PostgresInstructionStore struct {
	db *sql.DB
}

func NewPostgresInstructionStore(db *sql.DB) *PostgresInstructionStore {
	return &PostgresInstructionStore{db: db}
}

func (s *PostgresInstructionStore) ListActive(ctx context.Context, sellerID string, method payment.MethodName) ([]payment.Instructions, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, method, bank_name, account_number, account_name, swift_code, iban, instructions, active, sort_order
		FROM payment_instructions
		WHERE seller_id = $1 AND method = $2 AND active
		ORDER BY sort_order
	`, sellerID, method)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment instructions: %w", err)
	}
	defer rows.Close()

	var list []payment.Instructions
	for rows.Next() {
		var in payment.Instructions
		if err := rows.Scan(&in.ID, &in.SellerID, &in.Method, &in.BankName, &in.AccountNumber, &in.AccountName,
			&in.SwiftCode, &in.IBAN, &in.Text, &in.Active, &in.SortOrder); err != nil {
			return nil, err
		}
		list = append(list, in)
	}
	return list, rows.Err()
}
