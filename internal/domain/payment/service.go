package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/marketplace/internal/events"
)

// MetadataChargedAmount holds the amount the carrier debits when it differs
// from the payment amount.
const MetadataChargedAmount = "charged_amount"

// Request asks the service to open a payment for one order.
type Request struct {
	OrderID    string
	SellerID   string
	CustomerID string
	Method     Method
	Amount     decimal.Decimal
	Currency   string
	PayerName  string
	PayerEmail string
	// OrderReference is the buyer-facing order reference quoted in
	// instructions, usually the tracking token.
	OrderReference string
	Description    string
}

// Response summarizes a payment right after creation.
type Response struct {
	PaymentID         string          `json:"payment_id"`
	Method            MethodName      `json:"method"`
	Status            Status          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ExternalID        string          `json:"external_id,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Instructions      string          `json:"instructions"`
}

// FeePolicy computes processing fees for a payment. The default charges
// nothing.
type FeePolicy func(method MethodName, amount decimal.Decimal) decimal.Decimal

// StatusObserver is notified after every recorded transition.
type StatusObserver func(method MethodName, from, to Status)

type Option func(*Service)

func WithGateway(p Provider, gw Gateway) Option {
	return func(s *Service) { s.gateways[p] = gw }
}

func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.publisher = pub }
}

func WithOrderConfirmer(c OrderConfirmer) Option {
	return func(s *Service) { s.orders = c }
}

func WithDeduper(d Deduper) Option {
	return func(s *Service) { s.deduper = d }
}

func WithFeePolicy(f FeePolicy) Option {
	return func(s *Service) { s.fees = f }
}

func WithStatusObserver(o StatusObserver) Option {
	return func(s *Service) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	payments     Repository
	history      HistoryRepository
	instructions InstructionRepository
	cfg          GatewayConfig
	gateways     map[Provider]Gateway
	publisher    events.Publisher
	orders       OrderConfirmer
	deduper      Deduper
	fees         FeePolicy
	observer     StatusObserver
	now          func() time.Time
}

func NewService(payments Repository, history HistoryRepository, instructions InstructionRepository, cfg GatewayConfig, opts ...Option) *Service {
	if cfg.Mode == "" {
		cfg.Mode = ModeSandbox
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = ProviderVodacom
	}
	s := &Service{
		payments:     payments,
		history:      history,
		instructions: instructions,
		cfg:          cfg,
		gateways:     make(map[Provider]Gateway),
		publisher:    events.NopPublisher{},
		fees:         func(MethodName, decimal.Decimal) decimal.Decimal { return decimal.Zero },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode reports whether the service talks to real carriers.
func (s *Service) Mode() Mode {
	return s.cfg.Mode
}

// CreatePayment persists a pending payment and dispatches it to the
// handler of its method. A mobile-money gateway failure leaves the payment
// failed and is returned as an error wrapping ErrGatewayFailure.
func (s *Service) CreatePayment(ctx context.Context, req Request) (*Response, error) {
	if req.OrderID == "" || req.SellerID == "" {
		return nil, ErrMissingReference
	}
	if req.Method == nil {
		return nil, ErrInvalidMethod
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	fees := s.fees(req.Method.Name(), req.Amount)
	if fees.IsNegative() {
		fees = decimal.Zero
	}
	fees = decimal.Min(fees, req.Amount)

	p := &Payment{
		ID:         uuid.New().String(),
		OrderID:    req.OrderID,
		SellerID:   req.SellerID,
		CustomerID: req.CustomerID,
		Method:     req.Method.Name(),
		Status:     StatusPending,
		Amount:     req.Amount,
		Fees:       fees,
		NetAmount:  req.Amount.Sub(fees),
		Currency:   req.Currency,
		PayerName:  req.PayerName,
		PayerEmail: req.PayerEmail,
		Metadata:   map[string]any{"order_reference": req.OrderReference},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mm, ok := req.Method.(MobileMoney); ok {
		p.PayerPhone = mm.Phone
	}

	if err := s.payments.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if err := s.appendHistory(ctx, p, "", "Payment created", ActorSystem); err != nil {
		return nil, err
	}

	switch m := req.Method.(type) {
	case MobileMoney:
		return s.dispatchMobileMoney(ctx, p, m, req)
	case BankTransfer:
		return s.dispatchBankTransfer(ctx, p, req)
	case CashOnDelivery:
		return s.dispatchCashOnDelivery(p), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidMethod, m)
	}
}

func (s *Service) dispatchMobileMoney(ctx context.Context, p *Payment, m MobileMoney, req Request) (*Response, error) {
	provider := m.Provider
	if provider == "" {
		if detected, ok := DetectProvider(m.Phone); ok {
			provider = detected
		} else {
			provider = s.cfg.DefaultProvider
		}
	}
	p.Provider = provider
	phone, phoneErr := FormatPhone(provider, m.Phone)
	if phoneErr == nil {
		p.PayerPhone = phone
	}

	if err := s.transition(ctx, p, StatusProcessing, "Mobile money payment initiated", ActorSystem, nil); err != nil {
		return nil, err
	}

	gw, ok := s.gateways[provider]
	if !ok {
		err := fmt.Errorf("%w: provider %s in %s mode", ErrGatewayNotConfigured, provider, s.cfg.Mode)
		return nil, s.failDispatch(ctx, p, err)
	}
	if phoneErr != nil {
		return nil, s.failDispatch(ctx, p, phoneErr)
	}

	ref := NewTransactionReference(s.now())
	res, err := gw.Initiate(ctx, GatewayRequest{
		Provider:    provider,
		Phone:       phone,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Reference:   ref,
		Description: req.Description,
	})
	if err != nil {
		return nil, s.failDispatch(ctx, p, fmt.Errorf("%w: %v", ErrGatewayFailure, err))
	}

	if err := s.payments.SetExternalIDs(ctx, p.ID, res.ConversationID, ref); err != nil {
		return nil, fmt.Errorf("failed to store gateway ids: %w", err)
	}
	p.ExternalID = res.ConversationID
	p.ExternalReference = ref

	charged := p.Amount
	if !res.ChargedAmount.IsZero() && !res.ChargedAmount.Equal(p.Amount) {
		charged = res.ChargedAmount
		p.mergeMetadata(map[string]any{MetadataChargedAmount: charged.String()})
		if err := s.payments.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to store charged amount: %w", err)
		}
	}

	log.Printf("[Payment] Mobile money request %s sent via %s (%s mode) for payment %s", ref, provider, s.cfg.Mode, p.ID)

	return &Response{
		PaymentID:         p.ID,
		Method:            p.Method,
		Status:            p.Status,
		Amount:            p.Amount,
		Currency:          p.Currency,
		ExternalID:        p.ExternalID,
		ExternalReference: p.ExternalReference,
		Instructions: fmt.Sprintf(
			"A payment request for %s has been sent to %s. Enter your M-Pesa PIN on your phone to approve it. If no prompt appears, dial the M-Pesa menu and pay using reference %s.",
			formatMoney(p.Currency, charged), phone, ref),
	}, nil
}

// failDispatch marks p failed with cause as the reason and returns cause.
func (s *Service) failDispatch(ctx context.Context, p *Payment, cause error) error {
	log.Printf("[Payment] Mobile money dispatch failed for payment %s: %v", p.ID, cause)
	if err := s.transition(ctx, p, StatusFailed, cause.Error(), ActorSystem, map[string]any{"error": cause.Error()}); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) dispatchBankTransfer(ctx context.Context, p *Payment, req Request) (*Response, error) {
	resp := &Response{
		PaymentID: p.ID,
		Method:    p.Method,
		Status:    p.Status,
		Amount:    p.Amount,
		Currency:  p.Currency,
	}

	list, err := s.instructions.ListActive(ctx, p.SellerID, MethodBankTransfer)
	if err != nil {
		log.Printf("[Payment] Failed to load bank instructions for seller %s: %v", p.SellerID, err)
	}
	if len(list) == 0 {
		resp.Instructions = fmt.Sprintf(
			"Please contact the seller for bank transfer details. Quote order reference %s when paying %s.",
			req.OrderReference, formatMoney(p.Currency, p.Amount))
		return resp, nil
	}

	resp.Instructions = FormatBankInstructions(list[0], req.OrderReference, p.Currency, p.Amount)
	return resp, nil
}

func (s *Service) dispatchCashOnDelivery(p *Payment) *Response {
	return &Response{
		PaymentID:    p.ID,
		Method:       p.Method,
		Status:       p.Status,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Instructions: fmt.Sprintf("Cash payment of %s will be collected on delivery.", formatMoney(p.Currency, p.Amount)),
	}
}

// FormatBankInstructions renders a seller's bank details for the buyer.
func FormatBankInstructions(in Instructions, reference, currency string, amount decimal.Decimal) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Please transfer %s to the following account:\n", formatMoney(currency, amount))
	if in.BankName != "" {
		fmt.Fprintf(&sb, "Bank: %s\n", in.BankName)
	}
	if in.AccountName != "" {
		fmt.Fprintf(&sb, "Account name: %s\n", in.AccountName)
	}
	if in.AccountNumber != "" {
		fmt.Fprintf(&sb, "Account number: %s\n", in.AccountNumber)
	}
	if in.SwiftCode != "" {
		fmt.Fprintf(&sb, "SWIFT: %s\n", in.SwiftCode)
	}
	if in.IBAN != "" {
		fmt.Fprintf(&sb, "IBAN: %s\n", in.IBAN)
	}
	fmt.Fprintf(&sb, "Reference: %s\n", reference)
	fmt.Fprintf(&sb, "Amount due: %s", formatMoney(currency, amount))
	if in.Text != "" {
		sb.WriteString("\n")
		sb.WriteString(in.Text)
	}
	return sb.String()
}

// UpdatePaymentStatus records a status change requested by an admin,
// the seller or an internal process. The same status may be restated; every
// call appends one history row.
func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID string, status Status, reason, actor string, metadata map[string]any) (*Payment, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = ActorSystem
	}
	if reason == "" {
		reason = fmt.Sprintf("Status updated to %s", status)
	}
	if err := s.transition(ctx, p, status, reason, actor, metadata); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPayment returns a payment with its history, oldest entry first.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, []HistoryEntry, error) {
	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.history.List(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return p, history, nil
}

// transition applies to to p, persists it and appends exactly one history
// row.
func (s *Service) transition(ctx context.Context, p *Payment, to Status, reason, actor string, metadata map[string]any) error {
	from := p.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}

	now := s.now()
	p.Status = to
	p.stamp(to, now)
	p.mergeMetadata(metadata)
	p.UpdatedAt = now

	if err := s.payments.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if err := s.appendHistory(ctx, p, from, reason, actor); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer(p.Method, from, to)
	}
	return nil
}

func (s *Service) appendHistory(ctx context.Context, p *Payment, from Status, reason, actor string) error {
	entry := HistoryEntry{
		ID:             uuid.New().String(),
		PaymentID:      p.ID,
		Status:         p.Status,
		PreviousStatus: from,
		Reason:         reason,
		Actor:          actor,
		CreatedAt:      s.now(),
	}
	if err := s.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append payment history: %w", err)
	}
	s.publish(ctx, p, entry)
	return nil
}

func (s *Service) publish(ctx context.Context, p *Payment, entry HistoryEntry) {
	ev, err := events.New(p.ID, AggregateType, EventPaymentStatusChanged, PaymentStatusChanged{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		SellerID:       p.SellerID,
		Method:         p.Method,
		Status:         entry.Status,
		PreviousStatus: entry.PreviousStatus,
		Reason:         entry.Reason,
		Actor:          entry.Actor,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PayerName:      p.PayerName,
		PayerEmail:     p.PayerEmail,
		ChangedAt:      entry.CreatedAt,
	})
	if err != nil {
		log.Printf("[Payment] Failed to build status event for %s: %v", p.ID, err)
		return
	}
	if err := s.publisher.Publish(ctx, p.ID, ev); err != nil {
		log.Printf("[Payment] Failed to publish status event for %s: %v", p.ID, err)
	}
}

func formatMoney(currency string, amount decimal.Decimal) string {
	if currency == "" {
		return amount.StringFixed(2)
	}
	return currency + " " + amount.StringFixed(2)
}
