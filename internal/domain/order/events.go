package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderConfirmed = "OrderConfirmed"
)

type OrderPlaced struct {
	OrderID       string          `json:"order_id"`
	SellerID      string          `json:"seller_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	TrackingToken string          `json:"tracking_token"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	PlacedAt      time.Time       `json:"placed_at"`
}

type OrderConfirmed struct {
	OrderID     string    `json:"order_id"`
	PaymentID   string    `json:"payment_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}
