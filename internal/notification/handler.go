package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/events"
)

// ReceiptSender delivers payment outcome emails.
type ReceiptSender interface {
	SendPaymentReceipt(ctx context.Context, msg email.PaymentReceipt) error
}

// Handler processes events for sending notifications
type Handler struct {
	mailer ReceiptSender
}

func NewHandler(mailer ReceiptSender) *Handler {
	return &Handler{mailer: mailer}
}

// HandleEvent processes an event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event events.Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	// Only payment outcomes are mailed; order emails go out during checkout
	if event.EventType == payment.EventPaymentStatusChanged {
		return h.handlePaymentStatusChanged(ctx, event)
	}
	return nil
}

func (h *Handler) handlePaymentStatusChanged(ctx context.Context, event events.Event) error {
	var e payment.PaymentStatusChanged
	if err := json.Unmarshal(event.Data, &e); err != nil {
		log.Printf("[Notifier] Failed to unmarshal PaymentStatusChanged event: %v", err)
		return err
	}

	if e.Status != payment.StatusCompleted && e.Status != payment.StatusFailed {
		return nil
	}
	// A restated terminal status was already mailed
	if e.PreviousStatus == e.Status {
		return nil
	}
	if e.PayerEmail == "" {
		log.Printf("[Notifier] No payer email for payment %s, skipping receipt", e.PaymentID)
		return nil
	}

	log.Printf("[Notifier] Processing PaymentStatusChanged event for payment %s (%s)", e.PaymentID, e.Status)

	msg := email.PaymentReceipt{
		To:        e.PayerEmail,
		PayerName: e.PayerName,
		PaymentID: e.PaymentID,
		OrderID:   e.OrderID,
		Amount:    e.Amount,
		Currency:  e.Currency,
		Succeeded: e.Status == payment.StatusCompleted,
	}
	if !msg.Succeeded {
		msg.Reason = e.Reason
	}
	if err := h.mailer.SendPaymentReceipt(ctx, msg); err != nil {
		log.Printf("[Notifier] Failed to send receipt to %s: %v", e.PayerEmail, err)
		return err
	}

	log.Printf("[Notifier] Payment receipt sent to %s for payment %s", e.PayerEmail, e.PaymentID)
	return nil
}
