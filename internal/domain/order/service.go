package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/marketplace/internal/events"
)

// Service applies status changes to persisted orders.
type Service struct {
	repo      Repository
	publisher events.Publisher
	now       func() time.Time
}

func NewService(repo Repository, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{repo: repo, publisher: publisher, now: time.Now}
}

// ConfirmPayment moves a placed order to confirmed once its payment has
// completed. Orders past placed are left alone.
func (s *Service) ConfirmPayment(ctx context.Context, orderID, paymentID string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPlaced {
		return nil
	}

	now := s.now()
	change, err := o.Transition(StatusConfirmed, fmt.Sprintf("Payment %s completed", paymentID), now)
	if err != nil {
		return err
	}
	if err := s.repo.AppendStatus(ctx, orderID, change); err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}

	ev, err := events.New(orderID, AggregateType, EventOrderConfirmed, OrderConfirmed{
		OrderID:     orderID,
		PaymentID:   paymentID,
		ConfirmedAt: now,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, orderID, ev)
	}
	if err != nil {
		log.Printf("[Order] Failed to publish confirmation of %s: %v", orderID, err)
	}

	log.Printf("[Order] Order %s confirmed by payment %s", orderID, paymentID)
	return nil
}
