package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace/internal/command"
	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/coupon"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/events"
	"github.com/example/marketplace/internal/infrastructure/mpesa"
	"github.com/example/marketplace/internal/infrastructure/store"
)

// ============================================
// Test doubles
// ============================================

type recordingMailer struct {
	mu      sync.Mutex
	buyers  []email.BuyerConfirmation
	sellers []email.SellerNotification
	err     error
}

func (m *recordingMailer) SendBuyerConfirmation(_ context.Context, msg email.BuyerConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyers = append(m.buyers, msg)
	return m.err
}

func (m *recordingMailer) SendSellerNotification(_ context.Context, msg email.SellerNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers = append(m.sellers, msg)
	return m.err
}

type stubPayments struct {
	requests []payment.Request
	failFor  map[string]bool
}

func (s *stubPayments) CreatePayment(_ context.Context, req payment.Request) (*payment.Response, error) {
	s.requests = append(s.requests, req)
	if s.failFor[req.SellerID] {
		return nil, errors.New("gateway unavailable")
	}
	return &payment.Response{
		PaymentID: "pay-" + req.OrderID,
		Method:    req.Method.Name(),
		Status:    payment.StatusPending,
		Amount:    req.Amount,
		Currency:  req.Currency,
	}, nil
}

// failingOrders stores orders until failOn calls have been made, then
// rejects that call.
type failingOrders struct {
	*store.MemoryOrders
	calls  int
	failOn int
}

func (r *failingOrders) Create(ctx context.Context, o *order.Order) error {
	r.calls++
	if r.calls == r.failOn {
		return errors.New("db down")
	}
	return r.MemoryOrders.Create(ctx, o)
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev any) error {
	p.events = append(p.events, ev.(events.Event))
	return nil
}

type fixture struct {
	catalog   *store.MemoryCatalog
	coupons   *store.MemoryCoupons
	orders    *store.MemoryOrders
	payments  *stubPayments
	mailer    *recordingMailer
	publisher *recordingPublisher
	outcomes  []string
	handler   *command.Handler
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newFixture seeds two sellers: seller-a sells a 100.00 item and wants
// emails, seller-b sells a 50.00 item settled in TZS.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog:   store.NewMemoryCatalog(),
		coupons:   store.NewMemoryCoupons(),
		orders:    store.NewMemoryOrders(),
		payments:  &stubPayments{failFor: map[string]bool{}},
		mailer:    &recordingMailer{},
		publisher: &recordingPublisher{},
	}
	f.catalog.AddSeller(catalog.Seller{ID: "seller-a", StoreName: "Kariakoo Crafts", Email: "a@example.com", EmailNotifications: true})
	f.catalog.AddSeller(catalog.Seller{ID: "seller-b", StoreName: "Moshi Coffee", Email: "b@example.com", Currency: "TZS"})
	f.catalog.AddProduct(catalog.Product{ID: "prod-a", SellerID: "seller-a", Name: "Kikoi", Price: dec("100.00"), TrackInventory: true, StockQuantity: 10})
	f.catalog.AddProduct(catalog.Product{ID: "prod-b", SellerID: "seller-b", Name: "Arabica", Price: dec("50.00"), TrackInventory: true, StockQuantity: 3})
	f.catalog.AddShippingMethod(catalog.ShippingMethod{ID: "standard", Name: "Standard", Cost: dec("5.00"), EstimatedDays: 3})

	f.handler = command.NewHandler(f.catalog, f.coupons, f.orders, f.payments, f.mailer,
		command.Config{Currency: "USD", Rates: map[string]decimal.Decimal{"TZS": dec("2500")}},
		command.WithPublisher(f.publisher),
		command.WithObserver(func(o string) { f.outcomes = append(f.outcomes, o) }),
	)
	return f
}

func checkoutCmd(method string, items ...command.CheckoutItem) command.Checkout {
	return command.Checkout{
		CustomerID: "cust-1",
		Items:      items,
		ShippingAddress: &command.Address{
			FullName: "Asha Mwangi",
			Email:    "asha@example.com",
			Phone:    "0712345678",
			Address:  "12 Uhuru St",
			City:     "Dar es Salaam",
			Country:  "TZ",
		},
		PaymentMethod: method,
		CustomerPhone: "0712345678",
	}
}

func item(productID string, qty int) command.CheckoutItem {
	return command.CheckoutItem{ProductID: productID, Quantity: qty}
}

// ============================================
// Validation
// ============================================

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*command.Checkout)
		want   error
	}{
		{"empty cart", func(c *command.Checkout) { c.Items = nil }, command.ErrEmptyCart},
		{"zero quantity", func(c *command.Checkout) { c.Items[0].Quantity = 0 }, command.ErrInvalidQuantity},
		{"missing address", func(c *command.Checkout) { c.ShippingAddress = nil }, command.ErrShippingAddress},
		{"blank address line", func(c *command.Checkout) { c.ShippingAddress.Address = " " }, command.ErrShippingAddress},
		{"missing method", func(c *command.Checkout) { c.PaymentMethod = "" }, command.ErrPaymentMethodRequired},
		{"unknown method", func(c *command.Checkout) { c.PaymentMethod = "paypal" }, payment.ErrInvalidMethod},
		{"mpesa without phone", func(c *command.Checkout) { c.PaymentMethod = "mpesa"; c.CustomerPhone = "" }, payment.ErrPhoneRequired},
		{"unknown product", func(c *command.Checkout) { c.Items[0].ProductID = "nope" }, catalog.ErrProductNotFound},
		{"store mismatch", func(c *command.Checkout) { c.Items[0].StoreID = "seller-b" }, command.ErrStoreMismatch},
		{"unknown shipping", func(c *command.Checkout) { c.ShippingMethod = "drone" }, command.ErrUnknownShippingMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cmd := checkoutCmd("bank_transfer", item("prod-a", 1))
			tt.mutate(&cmd)

			res, err := f.handler.Checkout(context.Background(), cmd)

			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			var verr *command.ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Empty(t, f.orders.All())
			assert.Equal(t, []string{command.OutcomeRejected}, f.outcomes)
		})
	}
}

func TestCheckout_InsufficientStockCreatesNothing(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 2), item("prod-b", 2))

	_, err := f.handler.Checkout(context.Background(), cmd)

	require.ErrorIs(t, err, command.ErrInsufficientStock)
	assert.Empty(t, f.orders.All())
	assert.Empty(t, f.payments.requests)
	assert.Empty(t, f.mailer.buyers)

	p, err := f.catalog.GetProduct(context.Background(), "prod-b")
	require.NoError(t, err)
	assert.Equal(t, 3, p.StockQuantity)
}

func TestCheckout_MissingSellerIsNotValidation(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddProduct(catalog.Product{ID: "orphan", SellerID: "ghost", Name: "Orphan", Price: dec("1.00")})

	_, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("orphan", 1)))

	require.ErrorIs(t, err, catalog.ErrSellerNotFound)
	var verr *command.ValidationError
	assert.False(t, errors.As(err, &verr))
	assert.Empty(t, f.orders.All())
	assert.Equal(t, []string{command.OutcomeError}, f.outcomes)
}

// ============================================
// Multi-seller split
// ============================================

func TestCheckout_SplitsBySellerAndApportionsDiscount(t *testing.T) {
	f := newFixture(t)
	f.coupons.Add(coupon.Coupon{ID: "c1", Code: "save10", Type: coupon.TypePercentage, Value: dec("10"), MaxUses: coupon.Unlimited, Active: true})
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1))
	cmd.CouponCode = "SAVE10"

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Discount.Equal(dec("15")))
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "seller-a", res.Orders[0].SellerID)
	assert.Equal(t, "seller-b", res.Orders[1].SellerID)
	assert.True(t, res.Orders[0].Discount.Equal(dec("10")), res.Orders[0].Discount.String())
	assert.True(t, res.Orders[1].Discount.Equal(dec("5")), res.Orders[1].Discount.String())
	assert.True(t, res.Orders[0].Total.Equal(dec("90")))
	assert.True(t, res.Orders[1].Total.Equal(dec("45")))

	stored := f.orders.All()
	require.Len(t, stored, 2)
	for _, o := range stored {
		assert.Equal(t, order.StatusPlaced, o.Status)
		require.Len(t, o.StatusHistory, 1)
		assert.Equal(t, order.StatusPlaced, o.StatusHistory[0].Status)
		assert.Equal(t, "SAVE10", o.CouponCode)
		assert.Equal(t, "cust-1", o.CustomerID)
		assert.Equal(t, "USD", o.Currency)
	}
	assert.Equal(t, "Kikoi x1 @ 100.00", stored[0].Description)
}

func TestCheckout_UniqueTrackingTokens(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddSeller(catalog.Seller{ID: "seller-c", StoreName: "Zanzibar Spice"})
	f.catalog.AddProduct(catalog.Product{ID: "prod-c", SellerID: "seller-c", Name: "Cloves", Price: dec("7.50")})

	res, err := f.handler.Checkout(context.Background(),
		checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1), item("prod-c", 2)))
	require.NoError(t, err)

	require.Len(t, res.TrackingTokens, 3)
	seen := map[string]bool{}
	for _, tok := range res.TrackingTokens {
		assert.Regexp(t, `^TRK-[0-9A-Z]+-[0-9A-Z]{8}$`, tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
}

func TestCheckout_GroupsLinesOfTheSameSeller(t *testing.T) {
	f := newFixture(t)
	f.catalog.AddProduct(catalog.Product{ID: "prod-a2", SellerID: "seller-a", Name: "Kanga", Price: dec("20.00")})

	res, err := f.handler.Checkout(context.Background(),
		checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1), item("prod-a2", 2)))
	require.NoError(t, err)

	require.Len(t, res.Orders, 2)
	assert.True(t, res.Orders[0].Subtotal.Equal(dec("140")))
	stored := f.orders.All()
	assert.Len(t, stored[0].Items, 2)
}

func TestCheckout_ShippingChargedPerOrder(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1))
	cmd.ShippingMethod = "standard"

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	for _, o := range res.Orders {
		assert.True(t, o.ShippingCost.Equal(dec("5")))
	}
	assert.True(t, res.Orders[0].Total.Equal(dec("105")))
	stored := f.orders.All()
	require.NotNil(t, stored[0].EstimatedDelivery)
	assert.Equal(t, "standard", stored[0].ShippingMethodID)
}

func TestCheckout_DecrementsStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-b", 2)))
	require.NoError(t, err)

	p, err := f.catalog.GetProduct(context.Background(), "prod-b")
	require.NoError(t, err)
	assert.Equal(t, 1, p.StockQuantity)
}

func TestCheckout_StockFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.catalog.DecrementErr = errors.New("deadlock detected")

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1)))
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.SideEffects, 1)
	assert.Equal(t, command.SideEffectStockDecrement, res.SideEffects[0].Kind)
	assert.Equal(t, "prod-a", res.SideEffects[0].Target)
}

func TestCheckout_GuestHasNoCustomer(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1))
	cmd.GuestCheckout = true

	_, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.Empty(t, f.orders.All()[0].CustomerID)
}

func TestCheckout_PublishesOrderPlaced(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1)))
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 2)
	for i, ev := range f.publisher.events {
		assert.Equal(t, order.EventOrderPlaced, ev.EventType)
		assert.Equal(t, res.Orders[i].ID, ev.AggregateID)
	}
	assert.Equal(t, []string{command.OutcomeSuccess}, f.outcomes)
}

// ============================================
// Coupons
// ============================================

func TestCheckout_CouponUsageCap(t *testing.T) {
	f := newFixture(t)
	f.coupons.Add(coupon.Coupon{ID: "c1", Code: "ONCE", Type: coupon.TypeFixed, Value: dec("5"), MaxUses: 1, Active: true})
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1))
	cmd.CouponCode = "once"

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, res.Discount.Equal(dec("5")))

	c, ok := f.coupons.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, c.UsedCount, "usage counted once per checkout, not per order")

	_, err = f.handler.Checkout(context.Background(), cmd)
	require.ErrorIs(t, err, coupon.ErrUsageLimitReached)
	assert.Len(t, f.orders.All(), 2)
}

func TestCheckout_CouponMinimumNotMet(t *testing.T) {
	f := newFixture(t)
	f.coupons.Add(coupon.Coupon{ID: "c1", Code: "BIG", Type: coupon.TypeFixed, Value: dec("5"), MinOrderAmount: dec("500"), MaxUses: coupon.Unlimited, Active: true})
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1))
	cmd.CouponCode = "BIG"

	_, err := f.handler.Checkout(context.Background(), cmd)

	require.ErrorIs(t, err, coupon.ErrMinimumNotMet)
	assert.Empty(t, f.orders.All())
}

func TestCheckout_UnknownCouponIgnored(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1))
	cmd.CouponCode = "NOPE"

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.Discount.IsZero())
	assert.True(t, res.Orders[0].Total.Equal(dec("100")))
	require.NotEmpty(t, res.SideEffects)
	assert.Equal(t, command.SideEffectCouponIgnored, res.SideEffects[0].Kind)
	assert.Equal(t, "NOPE", res.SideEffects[0].Target)
	assert.Empty(t, f.orders.All()[0].CouponCode)
}

// ============================================
// Payments
// ============================================

func TestCheckout_CashOnDeliveryCreatesNoPayments(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("cash_on_delivery", item("prod-a", 1), item("prod-b", 1)))
	require.NoError(t, err)

	assert.Empty(t, res.Payments)
	assert.Empty(t, f.payments.requests)
	assert.Equal(t, "cash_on_delivery", f.orders.All()[0].PaymentMethod)
}

func TestCheckout_OnePaymentPerOrder(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("mpesa", item("prod-a", 1), item("prod-b", 1))
	cmd.MobileProvider = "Vodacom"

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	require.Len(t, res.Payments, 2)
	require.Len(t, f.payments.requests, 2)

	a := f.payments.requests[0]
	assert.Equal(t, res.Orders[0].ID, a.OrderID)
	assert.Equal(t, "USD", a.Currency)
	assert.True(t, a.Amount.Equal(dec("100")))
	assert.Equal(t, res.Orders[0].TrackingToken, a.OrderReference)
	mm, ok := a.Method.(payment.MobileMoney)
	require.True(t, ok)
	assert.Equal(t, payment.ProviderVodacom, mm.Provider)
	assert.Equal(t, "0712345678", mm.Phone)

	b := f.payments.requests[1]
	assert.Equal(t, "TZS", b.Currency)
	assert.True(t, b.Amount.Equal(dec("125000")), b.Amount.String())
}

func TestCheckout_PaymentFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.payments.failFor["seller-a"] = true

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1)))
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Payments, 2)
	assert.Nil(t, res.Payments[0].Payment)
	assert.Equal(t, "gateway unavailable", res.Payments[0].Error)
	require.NotNil(t, res.Payments[1].Payment)
	assert.Len(t, f.orders.All(), 2)
}

func TestCheckout_WithPaymentService(t *testing.T) {
	f := newFixture(t)
	svc := payment.NewService(store.NewMemoryPayments(), store.NewMemoryHistory(), store.NewMemoryInstructions(),
		payment.GatewayConfig{Mode: payment.ModeSandbox, DefaultProvider: payment.ProviderVodacom},
		payment.WithGateway(payment.ProviderVodacom, mpesa.NewSandboxGateway()),
	)
	h := command.NewHandler(f.catalog, f.coupons, f.orders, svc, f.mailer, command.Config{Currency: "TZS"})

	res, err := h.Checkout(context.Background(), checkoutCmd("mpesa", item("prod-a", 1)))
	require.NoError(t, err)

	require.Len(t, res.Payments, 1)
	p := res.Payments[0].Payment
	require.NotNil(t, p)
	assert.Equal(t, payment.StatusProcessing, p.Status)
	assert.Contains(t, p.ExternalID, "MOCK_")
}

// ============================================
// Notifications
// ============================================

func TestCheckout_SendsEmails(t *testing.T) {
	f := newFixture(t)

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1)))
	require.NoError(t, err)

	require.Len(t, f.mailer.buyers, 1)
	buyer := f.mailer.buyers[0]
	assert.Equal(t, "asha@example.com", buyer.To)
	assert.Len(t, buyer.Orders, 2)
	assert.True(t, buyer.Total.Equal(dec("150")))

	// only seller-a opted in
	require.Len(t, f.mailer.sellers, 1)
	assert.Equal(t, "a@example.com", f.mailer.sellers[0].To)
	assert.Equal(t, res.Orders[0].TrackingToken, f.mailer.sellers[0].TrackingToken)
}

func TestCheckout_NoBuyerEmailIsReported(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 1))
	cmd.ShippingAddress.Email = ""

	res, err := f.handler.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.Empty(t, f.mailer.buyers)
	require.Len(t, res.SideEffects, 1)
	assert.Equal(t, command.SideEffectBuyerEmail, res.SideEffects[0].Kind)
}

func TestCheckout_EmailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	res, err := f.handler.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1)))
	require.NoError(t, err)

	assert.True(t, res.Success)
	kinds := []string{}
	for _, se := range res.SideEffects {
		kinds = append(kinds, se.Kind)
	}
	assert.ElementsMatch(t, []string{command.SideEffectSellerEmail, command.SideEffectBuyerEmail}, kinds)
}

// ============================================
// Apportion
// ============================================

func TestApportion(t *testing.T) {
	tests := []struct {
		name     string
		discount string
		shares   []string
		want     []string
	}{
		{"proportional", "15", []string{"100", "50"}, []string{"10", "5"}},
		{"residual to last", "10", []string{"1", "1", "1"}, []string{"3.33", "3.33", "3.34"}},
		{"single", "7.5", []string{"80"}, []string{"7.5"}},
		{"no discount", "0", []string{"10", "20"}, []string{"0", "0"}},
		{"residual bounded by share", "20.04", []string{"10", "10", "0.05"}, []string{"9.99", "10", "0.05"}},
		{"zero share gets nothing", "5", []string{"50", "0"}, []string{"5", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares := make([]decimal.Decimal, len(tt.shares))
			for i, s := range tt.shares {
				shares[i] = dec(s)
			}

			got := command.Apportion(dec(tt.discount), shares)

			require.Len(t, got, len(tt.want))
			sum := decimal.Zero
			for i, w := range tt.want {
				assert.True(t, got[i].Equal(dec(w)), "part %d: got %s want %s", i, got[i], w)
				sum = sum.Add(got[i])
			}
			assert.True(t, sum.Equal(dec(tt.discount)))
		})
	}
}

func TestApportion_NeverExceedsShares(t *testing.T) {
	shares := []decimal.Decimal{dec("10"), dec("10"), dec("0.05")}

	got := command.Apportion(dec("25"), shares)

	sum := decimal.Zero
	for i, part := range got {
		assert.False(t, part.GreaterThan(shares[i]), "part %d: %s exceeds %s", i, part, shares[i])
		sum = sum.Add(part)
	}
	assert.True(t, sum.Equal(dec("20.05")), sum.String())
}

// ============================================
// Partial order creation
// ============================================

func newHandlerWithOrders(f *fixture, orders order.Repository) *command.Handler {
	return command.NewHandler(f.catalog, f.coupons, orders, f.payments, f.mailer,
		command.Config{Currency: "USD", Rates: map[string]decimal.Decimal{"TZS": dec("2500")}},
		command.WithPublisher(f.publisher),
	)
}

func TestCheckout_LaterOrderFailureKeepsStoredOrders(t *testing.T) {
	f := newFixture(t)
	f.coupons.Add(coupon.Coupon{ID: "c1", Code: "SAVE10", Type: coupon.TypePercentage, Value: dec("10"), MaxUses: 5, Active: true})
	orders := &failingOrders{MemoryOrders: f.orders, failOn: 2}
	h := newHandlerWithOrders(f, orders)
	cmd := checkoutCmd("bank_transfer", item("prod-a", 2), item("prod-b", 1))
	cmd.CouponCode = "SAVE10"

	res, err := h.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "seller-a", res.Orders[0].SellerID)
	require.Len(t, f.orders.All(), 1)

	require.Len(t, res.SideEffects, 1)
	assert.Equal(t, command.SideEffectOrderCreate, res.SideEffects[0].Kind)
	assert.Equal(t, "seller-b", res.SideEffects[0].Target)
	assert.Equal(t, "db down", res.SideEffects[0].Error)

	// The stored order still gets its stock, coupon, payment and emails.
	pa, err := f.catalog.GetProduct(context.Background(), "prod-a")
	require.NoError(t, err)
	assert.Equal(t, 8, pa.StockQuantity)
	pb, err := f.catalog.GetProduct(context.Background(), "prod-b")
	require.NoError(t, err)
	assert.Equal(t, 3, pb.StockQuantity)

	c, err := f.coupons.FindActiveByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	require.Len(t, res.Payments, 1)
	assert.Equal(t, res.Orders[0].ID, res.Payments[0].OrderID)
	require.Len(t, f.payments.requests, 1)
	assert.Equal(t, "seller-a", f.payments.requests[0].SellerID)

	require.Len(t, f.mailer.buyers, 1)
	require.Len(t, f.mailer.buyers[0].Orders, 1)
	assert.Equal(t, "Kariakoo Crafts", f.mailer.buyers[0].Orders[0].StoreName)
	require.Len(t, f.mailer.sellers, 1)
	assert.Equal(t, "a@example.com", f.mailer.sellers[0].To)
}

func TestCheckout_FirstOrderFailureFailsCheckout(t *testing.T) {
	f := newFixture(t)
	h := newHandlerWithOrders(f, &failingOrders{MemoryOrders: f.orders, failOn: 1})

	res, err := h.Checkout(context.Background(), checkoutCmd("bank_transfer", item("prod-a", 1), item("prod-b", 1)))

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, f.orders.All())
	assert.Empty(t, f.payments.requests)
	assert.Empty(t, f.mailer.buyers)
}
