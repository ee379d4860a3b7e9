package email

import (
	"context"
	"fmt"
	"net/smtp"
)

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
		send: smtp.SendMail,
	}
}

// SendBuyerConfirmation sends the checkout summary covering every order of
// the checkout.
func (s *Service) SendBuyerConfirmation(_ context.Context, msg BuyerConfirmation) error {
	subject := "Your order has been placed"
	if len(msg.Orders) > 1 {
		subject = fmt.Sprintf("Your %d orders have been placed", len(msg.Orders))
	}
	return s.deliver(msg.To, subject, BuildBuyerConfirmationBody(msg))
}

// SendSellerNotification tells a seller about a new order in their store.
func (s *Service) SendSellerNotification(_ context.Context, msg SellerNotification) error {
	subject := fmt.Sprintf("New order %s for %s", msg.TrackingToken, msg.StoreName)
	return s.deliver(msg.To, subject, BuildSellerNotificationBody(msg))
}

// SendPaymentReceipt informs the payer about a completed or failed payment.
func (s *Service) SendPaymentReceipt(_ context.Context, msg PaymentReceipt) error {
	subject := "Payment received"
	if !msg.Succeeded {
		subject = "Payment failed"
	}
	return s.deliver(msg.To, subject, BuildPaymentReceiptBody(msg))
}

func (s *Service) deliver(to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.send(addr, nil, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
