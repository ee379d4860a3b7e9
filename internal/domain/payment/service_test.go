package payment_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/events"
	"github.com/example/marketplace/internal/infrastructure/store"
)

// ============================================
// Test doubles
// ============================================

type recordingGateway struct {
	mu       sync.Mutex
	requests []payment.GatewayRequest
	err      error
	charged  decimal.Decimal
}

func (g *recordingGateway) Initiate(_ context.Context, req payment.GatewayRequest) (*payment.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.GatewayResult{ConversationID: "CONV-" + req.Reference, Description: "accepted", ChargedAmount: g.charged}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.(events.Event))
	return nil
}

type recordingConfirmer struct {
	calls []string
}

func (c *recordingConfirmer) ConfirmPayment(_ context.Context, orderID, paymentID string) error {
	c.calls = append(c.calls, orderID+"/"+paymentID)
	return nil
}

type fixture struct {
	payments     *store.MemoryPayments
	history      *store.MemoryHistory
	instructions *store.MemoryInstructions
	gateway      *recordingGateway
	publisher    *recordingPublisher
	orders       *recordingConfirmer
	svc          *payment.Service
}

// newFixture wires a service over memory stores. When gw is non-nil it
// serves both providers.
func newFixture(t *testing.T, cfg payment.GatewayConfig, gw *recordingGateway, opts ...payment.Option) *fixture {
	t.Helper()
	f := &fixture{
		payments:     store.NewMemoryPayments(),
		history:      store.NewMemoryHistory(),
		instructions: store.NewMemoryInstructions(),
		gateway:      gw,
		publisher:    &recordingPublisher{},
		orders:       &recordingConfirmer{},
	}
	base := []payment.Option{
		payment.WithPublisher(f.publisher),
		payment.WithOrderConfirmer(f.orders),
	}
	if gw != nil {
		base = append(base,
			payment.WithGateway(payment.ProviderVodacom, gw),
			payment.WithGateway(payment.ProviderSafaricom, gw),
		)
	}
	f.svc = payment.NewService(f.payments, f.history, f.instructions, cfg, append(base, opts...)...)
	return f
}

func request(method payment.Method) payment.Request {
	return payment.Request{
		OrderID:        "order-1",
		SellerID:       "seller-1",
		Method:         method,
		Amount:         decimal.RequireFromString("150.00"),
		Currency:       "TZS",
		PayerName:      "Asha",
		PayerEmail:     "asha@example.com",
		OrderReference: "TRK-ABC-12345678",
	}
}

func historyOf(t *testing.T, f *fixture, paymentID string) []payment.HistoryEntry {
	t.Helper()
	entries, err := f.history.List(context.Background(), paymentID)
	require.NoError(t, err)
	return entries
}

// ============================================
// CreatePayment
// ============================================

func TestService_CreatePayment_CashOnDeliveryStaysPending(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{})

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.CashOnDelivery{}))
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPending, resp.Status)
	assert.Equal(t, payment.MethodCashOnDelivery, resp.Method)
	assert.Equal(t, "Cash payment of TZS 150.00 will be collected on delivery.", resp.Instructions)
	assert.Empty(t, f.gateway.requests)

	entries := historyOf(t, f, resp.PaymentID)
	require.Len(t, entries, 1)
	assert.Equal(t, payment.StatusPending, entries[0].Status)
	assert.Equal(t, payment.ActorSystem, entries[0].Actor)
}

func TestService_CreatePayment_MobileMoneyProcessing(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{})

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "0712 345 678"}))
	require.NoError(t, err)

	assert.Equal(t, payment.StatusProcessing, resp.Status)
	assert.True(t, strings.HasPrefix(resp.ExternalReference, "MKT"))
	assert.Equal(t, "CONV-"+resp.ExternalReference, resp.ExternalID)
	assert.Contains(t, resp.Instructions, "255712345678")

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, payment.ProviderVodacom, req.Provider)
	assert.Equal(t, "255712345678", req.Phone)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("150")))

	p, err := f.payments.Get(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderVodacom, p.Provider)
	assert.Equal(t, "255712345678", p.PayerPhone)
	assert.NotNil(t, p.ProcessedAt)
	assert.Equal(t, resp.ExternalReference, p.ExternalReference)

	entries := historyOf(t, f, resp.PaymentID)
	require.Len(t, entries, 2)
	assert.Equal(t, payment.StatusProcessing, entries[1].Status)
	assert.Equal(t, payment.StatusPending, entries[1].PreviousStatus)
}

func TestService_CreatePayment_RecordsRoundedCharge(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{charged: decimal.RequireFromString("151")})
	req := request(payment.MobileMoney{Phone: "0712345678"})
	req.Amount = decimal.RequireFromString("150.40")

	resp, err := f.svc.CreatePayment(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Amount.Equal(decimal.RequireFromString("150.40")))
	assert.Contains(t, resp.Instructions, "151")

	p, err := f.payments.Get(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("150.40")))
	assert.Equal(t, "151", p.Metadata[payment.MetadataChargedAmount])
	assert.Equal(t, resp.ExternalID, p.ExternalID)
}

func TestService_CreatePayment_ExactChargeLeavesMetadata(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{charged: decimal.RequireFromString("150")})

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "0712345678"}))
	require.NoError(t, err)

	p, err := f.payments.Get(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.NotContains(t, p.Metadata, payment.MetadataChargedAmount)
}

func TestService_CreatePayment_DetectsSafaricom(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{})

	_, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "+254 712 345 678"}))
	require.NoError(t, err)

	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, payment.ProviderSafaricom, f.gateway.requests[0].Provider)
}

func TestService_CreatePayment_GatewayFailureMarksFailed(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{err: errors.New("timeout")})

	_, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "0712345678"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrGatewayFailure)

	all := f.payments.All()
	require.Len(t, all, 1)
	p := all[0]
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.NotNil(t, p.FailedAt)
	assert.Contains(t, p.Metadata["error"], "timeout")

	entries := historyOf(t, f, p.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, payment.StatusFailed, entries[2].Status)
	assert.Contains(t, entries[2].Reason, "timeout")
}

func TestService_CreatePayment_NoGatewayConfigured(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{Mode: payment.ModeLive}, nil)

	_, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "0712345678"}))
	assert.ErrorIs(t, err, payment.ErrGatewayNotConfigured)

	all := f.payments.All()
	require.Len(t, all, 1)
	assert.Equal(t, payment.StatusFailed, all[0].Status)
}

func TestService_CreatePayment_InvalidPhoneFails(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, &recordingGateway{})

	_, err := f.svc.CreatePayment(context.Background(), request(payment.MobileMoney{Phone: "12"}))
	assert.ErrorIs(t, err, payment.ErrInvalidPhone)
	assert.Empty(t, f.gateway.requests)
}

func TestService_CreatePayment_BankTransferFallback(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.BankTransfer{}))
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPending, resp.Status)
	assert.Equal(t,
		"Please contact the seller for bank transfer details. Quote order reference TRK-ABC-12345678 when paying TZS 150.00.",
		resp.Instructions)
}

func TestService_CreatePayment_BankTransferInstructions(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	f.instructions.Add(payment.Instructions{
		ID: "i2", SellerID: "seller-1", Method: payment.MethodBankTransfer, Active: true, SortOrder: 2, BankName: "Second Bank",
	})
	f.instructions.Add(payment.Instructions{
		ID: "i1", SellerID: "seller-1", Method: payment.MethodBankTransfer, Active: true, SortOrder: 1,
		BankName: "CRDB", AccountName: "Duka Ltd", AccountNumber: "0150123456", SwiftCode: "CORUTZTZ",
	})

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.BankTransfer{}))
	require.NoError(t, err)

	assert.Contains(t, resp.Instructions, "Bank: CRDB")
	assert.Contains(t, resp.Instructions, "Account number: 0150123456")
	assert.Contains(t, resp.Instructions, "Reference: TRK-ABC-12345678")
	assert.Contains(t, resp.Instructions, "Amount due: TZS 150.00")
	assert.NotContains(t, resp.Instructions, "Second Bank")
}

func TestService_CreatePayment_Validation(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	ctx := context.Background()

	req := request(payment.CashOnDelivery{})
	req.Amount = decimal.Zero
	_, err := f.svc.CreatePayment(ctx, req)
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	req = request(nil)
	_, err = f.svc.CreatePayment(ctx, req)
	assert.ErrorIs(t, err, payment.ErrInvalidMethod)

	req = request(payment.CashOnDelivery{})
	req.OrderID = ""
	_, err = f.svc.CreatePayment(ctx, req)
	assert.ErrorIs(t, err, payment.ErrMissingReference)

	assert.Empty(t, f.payments.All())
}

func TestService_CreatePayment_FeePolicy(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil, payment.WithFeePolicy(func(_ payment.MethodName, amount decimal.Decimal) decimal.Decimal {
		return amount.Mul(decimal.RequireFromString("0.02")).Round(2)
	}))

	resp, err := f.svc.CreatePayment(context.Background(), request(payment.CashOnDelivery{}))
	require.NoError(t, err)

	p, err := f.payments.Get(context.Background(), resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, "3", p.Fees.String())
	assert.Equal(t, "147", p.NetAmount.String())
}

// ============================================
// UpdatePaymentStatus / GetPayment
// ============================================

func TestService_UpdatePaymentStatus_EachCallAppendsHistory(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	ctx := context.Background()
	resp, err := f.svc.CreatePayment(ctx, request(payment.CashOnDelivery{}))
	require.NoError(t, err)

	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusProcessing, "", "seller-1", nil)
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusProcessing, "courier collected", "seller-1", nil)
	require.NoError(t, err)

	p, entries, err := f.svc.GetPayment(ctx, resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusProcessing, p.Status)
	require.Len(t, entries, 3)
	assert.Equal(t, "Status updated to processing", entries[1].Reason)
	assert.Equal(t, "courier collected", entries[2].Reason)
	assert.Equal(t, payment.StatusProcessing, entries[2].PreviousStatus)
	assert.Equal(t, "seller-1", entries[2].Actor)
}

func TestService_UpdatePaymentStatus_CompletedStampsAndMergesMetadata(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	ctx := context.Background()
	resp, err := f.svc.CreatePayment(ctx, request(payment.CashOnDelivery{}))
	require.NoError(t, err)

	p, err := f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusCompleted, "cash received", "", map[string]any{"receipt": "R-9"})
	require.NoError(t, err)

	assert.NotNil(t, p.CompletedAt)
	assert.NotNil(t, p.ProcessedAt)
	assert.Equal(t, "R-9", p.Metadata["receipt"])
	assert.Equal(t, "TRK-ABC-12345678", p.Metadata["order_reference"])

	_, entries, err := f.svc.GetPayment(ctx, resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.ActorSystem, entries[len(entries)-1].Actor)
}

func TestService_UpdatePaymentStatus_InvalidTransition(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	ctx := context.Background()
	resp, err := f.svc.CreatePayment(ctx, request(payment.CashOnDelivery{}))
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusCancelled, "", "", nil)
	require.NoError(t, err)

	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusCompleted, "", "", nil)
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)

	assert.Len(t, historyOf(t, f, resp.PaymentID), 2)
}

func TestService_UpdatePaymentStatus_Errors(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)

	_, err := f.svc.UpdatePaymentStatus(context.Background(), "missing", payment.StatusCompleted, "", "", nil)
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)

	_, err = f.svc.UpdatePaymentStatus(context.Background(), "missing", payment.Status("refunded"), "", "", nil)
	assert.ErrorIs(t, err, payment.ErrInvalidStatus)
}

func TestService_PublishesStatusEvents(t *testing.T) {
	f := newFixture(t, payment.GatewayConfig{}, nil)
	ctx := context.Background()
	resp, err := f.svc.CreatePayment(ctx, request(payment.CashOnDelivery{}))
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusCompleted, "", "", nil)
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 2)
	for _, ev := range f.publisher.events {
		assert.Equal(t, payment.EventPaymentStatusChanged, ev.EventType)
		assert.Equal(t, resp.PaymentID, ev.AggregateID)
	}
}

func TestService_StatusObserver(t *testing.T) {
	var seen []string
	f := newFixture(t, payment.GatewayConfig{}, nil, payment.WithStatusObserver(func(m payment.MethodName, from, to payment.Status) {
		seen = append(seen, string(m)+":"+string(from)+">"+string(to))
	}))
	ctx := context.Background()
	resp, err := f.svc.CreatePayment(ctx, request(payment.CashOnDelivery{}))
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, resp.PaymentID, payment.StatusCompleted, "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"cash_on_delivery:pending>completed"}, seen)
}

// ============================================
// GetRevenueSummary
// ============================================

func TestService_GetRevenueSummary(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, payment.GatewayConfig{}, nil,
		payment.WithClock(func() time.Time { return now }),
		payment.WithFeePolicy(func(_ payment.MethodName, _ decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1) }),
	)
	ctx := context.Background()

	amounts := []string{"100", "50", "25"}
	ids := make([]string, len(amounts))
	for i, a := range amounts {
		req := request(payment.CashOnDelivery{})
		req.Amount = decimal.RequireFromString(a)
		resp, err := f.svc.CreatePayment(ctx, req)
		require.NoError(t, err)
		ids[i] = resp.PaymentID
	}
	_, err := f.svc.UpdatePaymentStatus(ctx, ids[0], payment.StatusCompleted, "", "", nil)
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, ids[2], payment.StatusFailed, "", "", nil)
	require.NoError(t, err)

	sum, err := f.svc.GetRevenueSummary(ctx, "seller-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalPayments)
	assert.Equal(t, 1, sum.CompletedPayments)
	assert.Equal(t, 1, sum.PendingPayments)
	assert.Equal(t, "175", sum.TotalAmount.String())
	assert.Equal(t, "100", sum.CompletedAmount.String())
	assert.Equal(t, "1", sum.TotalFees.String())
	assert.Equal(t, "99", sum.NetRevenue.String())

	later := now.Add(time.Hour)
	empty, err := f.svc.GetRevenueSummary(ctx, "seller-1", &later, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalPayments)
	assert.True(t, empty.TotalAmount.IsZero())
}
