package payment

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	FindByExternalReference(ctx context.Context, ref string) (*Payment, error)
	FindByExternalID(ctx context.Context, externalID string) (*Payment, error)

	// Update persists status, timestamps, confirmation code and metadata.
	Update(ctx context.Context, p *Payment) error

	// SetExternalIDs writes the gateway ids, leaving any value that is
	// already set untouched.
	SetExternalIDs(ctx context.Context, id, externalID, externalRef string) error

	// ListBySeller returns the seller's payments created within the
	// optional [from, to] window.
	ListBySeller(ctx context.Context, sellerID string, from, to *time.Time) ([]*Payment, error)
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, paymentID string) ([]HistoryEntry, error)
}

type InstructionRepository interface {
	// ListActive returns active instructions ordered by sort order.
	ListActive(ctx context.Context, sellerID string, method MethodName) ([]Instructions, error)
}

// OrderConfirmer advances the order behind a payment once it is paid.
type OrderConfirmer interface {
	ConfirmPayment(ctx context.Context, orderID, paymentID string) error
}

// Deduper remembers processed webhook deliveries.
type Deduper interface {
	// Claim stores value under key unless key already exists, in which case
	// it returns false and the stored value.
	Claim(ctx context.Context, key, value string) (bool, string, error)
	Release(ctx context.Context, key string) error
}
