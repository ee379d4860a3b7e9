package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventPaymentStatusChanged = "PaymentStatusChanged"

type PaymentStatusChanged struct {
	PaymentID      string          `json:"payment_id"`
	OrderID        string          `json:"order_id"`
	SellerID       string          `json:"seller_id"`
	Method         MethodName      `json:"method"`
	Status         Status          `json:"status"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Actor          string          `json:"actor"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PayerName      string          `json:"payer_name,omitempty"`
	PayerEmail     string          `json:"payer_email,omitempty"`
	ChangedAt      time.Time       `json:"changed_at"`
}
