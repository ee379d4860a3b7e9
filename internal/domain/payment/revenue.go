package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type RevenueSummary struct {
	SellerID          string          `json:"seller_id"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	CompletedAmount   decimal.Decimal `json:"completed_amount"`
	TotalFees         decimal.Decimal `json:"total_fees"`
	NetRevenue        decimal.Decimal `json:"net_revenue"`
	TotalPayments     int             `json:"total_payments"`
	CompletedPayments int             `json:"completed_payments"`
	PendingPayments   int             `json:"pending_payments"`
}

// GetRevenueSummary aggregates the seller's payments created within the
// optional window. Fees and net revenue only count completed payments;
// pending includes processing.
func (s *Service) GetRevenueSummary(ctx context.Context, sellerID string, from, to *time.Time) (*RevenueSummary, error) {
	list, err := s.payments.ListBySeller(ctx, sellerID, from, to)
	if err != nil {
		return nil, err
	}
	return Summarize(sellerID, list), nil
}

func Summarize(sellerID string, list []*Payment) *RevenueSummary {
	sum := &RevenueSummary{SellerID: sellerID}
	for _, p := range list {
		sum.TotalPayments++
		sum.TotalAmount = sum.TotalAmount.Add(p.Amount)
		switch p.Status {
		case StatusCompleted:
			sum.CompletedPayments++
			sum.CompletedAmount = sum.CompletedAmount.Add(p.Amount)
			sum.TotalFees = sum.TotalFees.Add(p.Fees)
			sum.NetRevenue = sum.NetRevenue.Add(p.NetAmount)
		case StatusPending, StatusProcessing:
			sum.PendingPayments++
		}
	}
	return sum
}
