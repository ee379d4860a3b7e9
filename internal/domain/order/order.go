package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusPlaced    Status = "placed"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusShipped   Status = "shipped"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrEmptyOrder     = errors.New("order must have at least one item")
	ErrInvalidStatus  = errors.New("invalid order status transition")
	ErrOrderCancelled = errors.New("order is already cancelled")
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPlaced:    {StatusConfirmed, StatusPreparing, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusShipped, StatusCancelled},
	StatusPreparing: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusInTransit, StatusDelivered},
	StatusInTransit: {StatusDelivered},
	StatusDelivered: {}, // terminal state
	StatusCancelled: {}, // terminal state
}

// Item is one cart line captured on the order.
type Item struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is a denormalized snapshot taken at checkout.
type Address struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

func (a Address) String() string {
	parts := []string{a.FullName, a.Line1, a.Line2, a.City, a.Region, a.PostalCode, a.Country}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

type StatusChange struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// Order is one seller's share of a checkout.
type Order struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"seller_id"`
	CustomerID        string          `json:"customer_id,omitempty"`
	CustomerName      string          `json:"customer_name"`
	CustomerContact   string          `json:"customer_contact"`
	CustomerEmail     string          `json:"customer_email,omitempty"`
	Description       string          `json:"description"`
	Items             []Item          `json:"items"`
	Status            Status          `json:"status"`
	StatusHistory     []StatusChange  `json:"status_history"`
	CouponCode        string          `json:"coupon_code,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	ShippingMethodID  string          `json:"shipping_method_id,omitempty"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"payment_method"`
	ShippingAddress   Address         `json:"shipping_address"`
	BillingAddress    *Address        `json:"billing_address,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	TrackingToken     string          `json:"tracking_token"`
	EstimatedDelivery *time.Time      `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Transition moves the order to target and records it in the history.
func (o *Order) Transition(target Status, note string, at time.Time) (StatusChange, error) {
	if !o.CanTransitionTo(target) {
		if o.Status == StatusCancelled {
			return StatusChange{}, ErrOrderCancelled
		}
		return StatusChange{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
	change := StatusChange{Status: target, Timestamp: at, Note: note}
	o.Status = target
	o.StatusHistory = append(o.StatusHistory, change)
	return change, nil
}

// Describe renders the itemized message stored on the order row.
func Describe(items []Item) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Name
		if it.VariantName != "" {
			name += " (" + it.VariantName + ")"
		}
		lines = append(lines, fmt.Sprintf("%s x%d @ %s", name, it.Quantity, it.UnitPrice.StringFixed(2)))
	}
	return strings.Join(lines, "\n")
}

const tokenAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewTrackingToken combines the base-36 millisecond timestamp with eight
// random base-36 characters drawn from crypto/rand.
func NewTrackingToken(now time.Time) (string, error) {
	var sb strings.Builder
	sb.WriteString("TRK-")
	sb.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))
	sb.WriteByte('-')
	base := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < 8; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate tracking token: %w", err)
		}
		sb.WriteByte(tokenAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByTrackingToken(ctx context.Context, token string) (*Order, error)
	// AppendStatus sets the order status and appends change to its history.
	AppendStatus(ctx context.Context, id string, change StatusChange) error
}
