package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
)

var ErrInvalidRange = errors.New("from must not be after to")

// PaymentReader is the read half of the payment service.
type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*payment.Payment, []payment.HistoryEntry, error)
	GetRevenueSummary(ctx context.Context, sellerID string, from, to *time.Time) (*payment.RevenueSummary, error)
}

type Handler struct {
	orders   order.Repository
	catalog  catalog.Repository
	payments PaymentReader
}

func NewHandler(orders order.Repository, catalogRepo catalog.Repository, payments PaymentReader) *Handler {
	return &Handler{orders: orders, catalog: catalogRepo, payments: payments}
}

// Orders
func (h *Handler) TrackOrder(ctx context.Context, token string) (*TrackedOrder, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return nil, order.ErrOrderNotFound
	}
	o, err := h.orders.GetByTrackingToken(ctx, token)
	if err != nil {
		return nil, err
	}

	view := &TrackedOrder{
		TrackingToken:     o.TrackingToken,
		Status:            o.Status,
		StatusHistory:     o.StatusHistory,
		Items:             make([]TrackedOrderItem, 0, len(o.Items)),
		Subtotal:          o.Subtotal,
		Discount:          o.DiscountAmount,
		ShippingCost:      o.ShippingCost,
		Total:             o.Total,
		Currency:          o.Currency,
		PaymentMethod:     o.PaymentMethod,
		ShipTo:            shipTo(o.ShippingAddress),
		EstimatedDelivery: o.EstimatedDelivery,
		PlacedAt:          o.CreatedAt,
	}
	for _, it := range o.Items {
		view.Items = append(view.Items, TrackedOrderItem{
			Name:        it.Name,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	seller, err := h.catalog.GetSeller(ctx, o.SellerID)
	if err != nil {
		log.Printf("[Query] Error getting seller %s for order %s: %v", o.SellerID, o.ID, err)
	} else {
		view.StoreName = seller.StoreName
	}
	return view, nil
}

// shipTo keeps only the destination city and country.
func shipTo(a order.Address) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{a.City, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Payments
func (h *Handler) GetPayment(ctx context.Context, id string) (*PaymentDetail, error) {
	p, history, err := h.payments.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []payment.HistoryEntry{}
	}
	return &PaymentDetail{Payment: p, History: history}, nil
}

// RevenueSummary aggregates the seller's payments created in [from, to].
// Either bound may be nil.
func (h *Handler) RevenueSummary(ctx context.Context, sellerID string, from, to *time.Time) (*payment.RevenueSummary, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return h.payments.GetRevenueSummary(ctx, sellerID, from, to)
}
