package query

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
)

// TrackedOrderItem is an order line as shown on the public tracking page.
type TrackedOrderItem struct {
	Name        string          `json:"name"`
	VariantName string          `json:"variantName,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// TrackedOrder is the view returned to anyone holding a tracking token. It
// carries no buyer contact details.
type TrackedOrder struct {
	TrackingToken     string               `json:"trackingToken"`
	StoreName         string               `json:"storeName,omitempty"`
	Status            order.Status         `json:"status"`
	StatusHistory     []order.StatusChange `json:"statusHistory"`
	Items             []TrackedOrderItem   `json:"items"`
	Subtotal          decimal.Decimal      `json:"subtotal"`
	Discount          decimal.Decimal      `json:"discount"`
	ShippingCost      decimal.Decimal      `json:"shippingCost"`
	Total             decimal.Decimal      `json:"total"`
	Currency          string               `json:"currency"`
	PaymentMethod     string               `json:"paymentMethod"`
	ShipTo            string               `json:"shipTo"`
	EstimatedDelivery *time.Time           `json:"estimatedDelivery,omitempty"`
	PlacedAt          time.Time            `json:"placedAt"`
}

// PaymentDetail is a payment with its status history, oldest first.
type PaymentDetail struct {
	Payment *payment.Payment       `json:"payment"`
	History []payment.HistoryEntry `json:"history"`
}
