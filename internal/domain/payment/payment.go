package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Payment"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// History actors other than user ids.
const (
	ActorSystem  = "system"
	ActorWebhook = "webhook"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrInvalidStatus        = errors.New("invalid payment status")
	ErrInvalidMethod        = errors.New("invalid payment method")
	ErrInvalidAmount        = errors.New("payment amount must be positive")
	ErrMissingReference     = errors.New("payment requires an order and a seller")
	ErrPhoneRequired        = errors.New("phone number is required for mobile money payments")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrUnknownProvider      = errors.New("unknown mobile money provider")
	ErrGatewayNotConfigured = errors.New("mobile money gateway is not configured")
	ErrGatewayFailure       = errors.New("mobile money gateway request failed")
)

// validTransitions lists the forward moves of the payment state machine.
// Restating the current status is always allowed and still recorded.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {}, // terminal state
	StatusFailed:     {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a payment in from may move to to.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Payment struct {
	ID                string          `json:"id"`
	OrderID           string          `json:"order_id"`
	SellerID          string          `json:"seller_id"`
	CustomerID        string          `json:"customer_id,omitempty"`
	Method            MethodName      `json:"method"`
	Provider          Provider        `json:"provider,omitempty"`
	Status            Status          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Fees              decimal.Decimal `json:"fees"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	Currency          string          `json:"currency"`
	PayerPhone        string          `json:"payer_phone,omitempty"`
	PayerName         string          `json:"payer_name,omitempty"`
	PayerEmail        string          `json:"payer_email,omitempty"`
	ExternalID        string          `json:"external_id,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	ConfirmationCode  string          `json:"confirmation_code,omitempty"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FailedAt          *time.Time      `json:"failed_at,omitempty"`
}

// stamp sets the timestamp belonging to status.
func (p *Payment) stamp(status Status, at time.Time) {
	switch status {
	case StatusProcessing:
		p.ProcessedAt = &at
	case StatusCompleted:
		p.ProcessedAt = &at
		p.CompletedAt = &at
	case StatusFailed:
		p.FailedAt = &at
	}
}

// mergeMetadata copies md into the payment metadata without dropping
// existing keys.
func (p *Payment) mergeMetadata(md map[string]any) {
	if len(md) == 0 {
		return
	}
	if p.Metadata == nil {
		p.Metadata = make(map[string]any, len(md))
	}
	for k, v := range md {
		p.Metadata[k] = v
	}
}

// HistoryEntry is one row of the append-only payment status log.
type HistoryEntry struct {
	ID             string    `json:"id"`
	PaymentID      string    `json:"payment_id"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

// Instructions are a seller's static payout details for one method.
type Instructions struct {
	ID            string     `json:"id"`
	SellerID      string     `json:"seller_id"`
	Method        MethodName `json:"method"`
	BankName      string     `json:"bank_name,omitempty"`
	AccountNumber string     `json:"account_number,omitempty"`
	AccountName   string     `json:"account_name,omitempty"`
	SwiftCode     string     `json:"swift_code,omitempty"`
	IBAN          string     `json:"iban,omitempty"`
	Text          string     `json:"instructions,omitempty"`
	Active        bool       `json:"active"`
	SortOrder     int        `json:"sort_order"`
}
