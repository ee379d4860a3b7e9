package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/coupon"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/email"
	"github.com/example/marketplace/internal/events"
)

var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrShippingAddress       = errors.New("shipping address is required")
	ErrPaymentMethodRequired = errors.New("payment method is required")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrStoreMismatch         = errors.New("product does not belong to store")
	ErrUnknownShippingMethod = errors.New("unknown shipping method")
	ErrUnknownMobileProvider = errors.New("unknown mobile money provider")
)

// ValidationError marks a checkout rejected before anything was written.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) error {
	return &ValidationError{Err: err}
}

// Side effect kinds reported by Checkout.
const (
	SideEffectCouponIgnored   = "coupon_ignored"
	SideEffectCouponIncrement = "coupon_increment"
	SideEffectStockDecrement  = "stock_decrement"
	SideEffectBuyerEmail      = "buyer_email"
	SideEffectSellerEmail     = "seller_email"
	SideEffectPayment         = "payment"
	SideEffectEventPublish    = "event_publish"
	SideEffectOrderCreate     = "order_create"
)

// SideEffect records a post-commit step that failed or was skipped. The
// checkout itself still succeeded.
type SideEffect struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

type OrderSummary struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"sellerId"`
	TrackingToken string          `json:"trackingToken"`
	Status        order.Status    `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	ShippingCost  decimal.Decimal `json:"shippingCost"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
}

// PaymentResult holds either the created payment or the reason it could not
// be created.
type PaymentResult struct {
	OrderID string            `json:"orderId"`
	Payment *payment.Response `json:"payment,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type CheckoutResult struct {
	Success        bool            `json:"success"`
	Orders         []OrderSummary  `json:"orders"`
	TrackingTokens []string        `json:"trackingTokens"`
	Payments       []PaymentResult `json:"payments"`
	Discount       decimal.Decimal `json:"discount"`
	SideEffects    []SideEffect    `json:"sideEffects,omitempty"`
}

func (r *CheckoutResult) report(kind, target string, err error) {
	r.SideEffects = append(r.SideEffects, SideEffect{Kind: kind, Target: target, Error: err.Error()})
}

// PaymentCreator opens a payment for one order.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, req payment.Request) (*payment.Response, error)
}

type Mailer interface {
	SendBuyerConfirmation(ctx context.Context, msg email.BuyerConfirmation) error
	SendSellerNotification(ctx context.Context, msg email.SellerNotification) error
}

type Config struct {
	// Currency is the working currency of carts and orders.
	Currency string
	// Rates converts Currency into seller settlement currencies.
	Rates map[string]decimal.Decimal
}

// Outcome labels passed to the checkout observer.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Option func(*Handler)

func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithObserver registers a callback receiving the outcome of every checkout.
func WithObserver(fn func(outcome string)) Option {
	return func(h *Handler) { h.observe = fn }
}

type Handler struct {
	catalog   catalog.Repository
	coupons   coupon.Repository
	orders    order.Repository
	payments  PaymentCreator
	mailer    Mailer
	publisher events.Publisher
	cfg       Config
	observe   func(outcome string)
	now       func() time.Time
}

func NewHandler(
	catalogRepo catalog.Repository,
	coupons coupon.Repository,
	orders order.Repository,
	payments PaymentCreator,
	mailer Mailer,
	cfg Config,
	opts ...Option,
) *Handler {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	h := &Handler{
		catalog:   catalogRepo,
		coupons:   coupons,
		orders:    orders,
		payments:  payments,
		mailer:    mailer,
		publisher: events.NopPublisher{},
		cfg:       cfg,
		observe:   func(string) {},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// line is a validated cart line with its catalog row.
type line struct {
	product *catalog.Product
	item    order.Item
}

// sellerGroup is the part of the cart that becomes one order.
type sellerGroup struct {
	seller   *catalog.Seller
	lines    []line
	subtotal decimal.Decimal
	discount decimal.Decimal
}

// Checkout validates the cart, splits it into one order per seller and
// then runs the post-commit side effects. Validation failures are returned
// as *ValidationError before any write. Failures after the first order is
// stored never fail the checkout; they are listed in the result.
func (h *Handler) Checkout(ctx context.Context, cmd Checkout) (*CheckoutResult, error) {
	res, err := h.checkout(ctx, cmd)
	var verr *ValidationError
	switch {
	case err == nil:
		h.observe(OutcomeSuccess)
	case errors.As(err, &verr):
		h.observe(OutcomeRejected)
	default:
		h.observe(OutcomeError)
	}
	return res, err
}

func (h *Handler) checkout(ctx context.Context, cmd Checkout) (*CheckoutResult, error) {
	method, err := validate(cmd)
	if err != nil {
		return nil, err
	}

	now := h.now()
	result := &CheckoutResult{Success: true, Discount: decimal.Zero}

	// 1. Resolve products and check stock before any write
	lines, err := h.resolveLines(ctx, cmd.Items)
	if err != nil {
		return nil, err
	}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.item.LineTotal())
	}

	// 2. Coupon
	applied, discount, err := h.applyCoupon(ctx, cmd.CouponCode, subtotal, now, result)
	if err != nil {
		return nil, err
	}
	result.Discount = discount

	// 3. Shipping
	var (
		shipping  *catalog.ShippingMethod
		estimated *time.Time
	)
	if cmd.ShippingMethod != "" {
		shipping, err = h.catalog.GetShippingMethod(ctx, cmd.ShippingMethod)
		if errors.Is(err, catalog.ErrShippingMethodNotFound) {
			return nil, invalid(fmt.Errorf("%w: %s", ErrUnknownShippingMethod, cmd.ShippingMethod))
		}
		if err != nil {
			return nil, err
		}
		eta := now.AddDate(0, 0, shipping.EstimatedDays)
		estimated = &eta
	}

	// 4. Partition by seller and apportion the discount
	groups, err := h.groupBySeller(ctx, lines)
	if err != nil {
		return nil, err
	}
	shares := make([]decimal.Decimal, len(groups))
	for i, g := range groups {
		shares[i] = g.subtotal
	}
	for i, d := range Apportion(discount, shares) {
		groups[i].discount = d
	}

	// 5. Create one order per seller
	customerID := cmd.CustomerID
	if cmd.GuestCheckout {
		customerID = ""
	}
	shippingAddr := cmd.ShippingAddress.toOrder()
	var billingAddr *order.Address
	if cmd.BillingAddress != nil {
		b := cmd.BillingAddress.toOrder()
		billingAddr = &b
	}
	contact := cmd.CustomerPhone
	if contact == "" {
		contact = shippingAddr.Phone
	}

	// placed[i] is the group created[i] was stored for.
	created := make([]*order.Order, 0, len(groups))
	placed := make([]*sellerGroup, 0, len(groups))
	for _, g := range groups {
		token, err := order.NewTrackingToken(now)
		if err != nil {
			if len(created) == 0 {
				return nil, fmt.Errorf("failed to generate tracking token: %w", err)
			}
			log.Printf("[Checkout] Failed to generate tracking token for seller %s: %v", g.seller.ID, err)
			result.report(SideEffectOrderCreate, g.seller.ID, err)
			continue
		}

		items := make([]order.Item, len(g.lines))
		for i, l := range g.lines {
			items[i] = l.item
		}
		shippingCost := decimal.Zero
		o := &order.Order{
			ID:              uuid.New().String(),
			SellerID:        g.seller.ID,
			CustomerID:      customerID,
			CustomerName:    shippingAddr.FullName,
			CustomerContact: contact,
			CustomerEmail:   shippingAddr.Email,
			Description:     order.Describe(items),
			Items:           items,
			Status:          order.StatusPlaced,
			StatusHistory: []order.StatusChange{
				{Status: order.StatusPlaced, Timestamp: now, Note: "Order placed"},
			},
			Subtotal:          g.subtotal,
			DiscountAmount:    g.discount,
			Currency:          h.cfg.Currency,
			PaymentMethod:     string(method.Name()),
			ShippingAddress:   shippingAddr,
			BillingAddress:    billingAddr,
			Notes:             cmd.Notes,
			TrackingToken:     token,
			EstimatedDelivery: estimated,
			CreatedAt:         now,
		}
		if applied != nil {
			o.CouponCode = applied.Code
		}
		if shipping != nil {
			o.ShippingMethodID = shipping.ID
			shippingCost = shipping.Cost
		}
		o.ShippingCost = shippingCost
		o.Total = g.subtotal.Sub(g.discount).Add(shippingCost)

		if err := h.orders.Create(ctx, o); err != nil {
			if len(created) == 0 {
				return nil, fmt.Errorf("failed to create order: %w", err)
			}
			// Earlier orders are stored, so the checkout goes on without this one.
			log.Printf("[Checkout] Failed to create order for seller %s after %d order(s) were stored: %v", g.seller.ID, len(created), err)
			result.report(SideEffectOrderCreate, g.seller.ID, err)
			continue
		}
		created = append(created, o)
		placed = append(placed, g)
		log.Printf("[Checkout] Order %s placed for seller %s (tracking %s)", o.ID, o.SellerID, o.TrackingToken)

		for _, l := range g.lines {
			if !l.product.TrackInventory {
				continue
			}
			if _, err := h.catalog.DecrementStock(ctx, l.product.ID, l.item.Quantity); err != nil {
				log.Printf("[Checkout] Failed to decrement stock of %s: %v", l.product.ID, err)
				result.report(SideEffectStockDecrement, l.product.ID, err)
			}
		}

		result.Orders = append(result.Orders, OrderSummary{
			ID:            o.ID,
			SellerID:      o.SellerID,
			TrackingToken: o.TrackingToken,
			Status:        o.Status,
			Subtotal:      o.Subtotal,
			Discount:      o.DiscountAmount,
			ShippingCost:  o.ShippingCost,
			Total:         o.Total,
			Currency:      o.Currency,
		})
		result.TrackingTokens = append(result.TrackingTokens, o.TrackingToken)
	}

	// 6. Post-commit side effects
	if applied != nil {
		if err := h.coupons.IncrementUsage(ctx, applied.ID); err != nil {
			log.Printf("[Checkout] Failed to increment usage of coupon %s: %v", applied.Code, err)
			result.report(SideEffectCouponIncrement, applied.Code, err)
		}
	}
	h.publishPlaced(ctx, created, result)
	h.notify(ctx, cmd, placed, created, shipping, result)
	result.Payments = h.createPayments(ctx, cmd, method, placed, created, result)

	return result, nil
}

func validate(cmd Checkout) (payment.Method, error) {
	if len(cmd.Items) == 0 {
		return nil, invalid(ErrEmptyCart)
	}
	for _, it := range cmd.Items {
		if it.ProductID == "" {
			return nil, invalid(fmt.Errorf("%w: missing product id", catalog.ErrProductNotFound))
		}
		if it.Quantity < 1 {
			return nil, invalid(fmt.Errorf("%w: product %s", ErrInvalidQuantity, it.ProductID))
		}
	}
	a := cmd.ShippingAddress
	if a == nil || strings.TrimSpace(a.FullName) == "" || strings.TrimSpace(a.Address) == "" {
		return nil, invalid(ErrShippingAddress)
	}
	if cmd.PaymentMethod == "" {
		return nil, invalid(ErrPaymentMethodRequired)
	}
	name, err := payment.ParseMethodName(cmd.PaymentMethod)
	if err != nil {
		return nil, invalid(err)
	}
	method, err := payment.NewMethod(name, strings.TrimSpace(cmd.CustomerPhone))
	if err != nil {
		return nil, invalid(err)
	}
	if mm, ok := method.(payment.MobileMoney); ok && cmd.MobileProvider != "" {
		p, err := payment.ParseProvider(cmd.MobileProvider)
		if err != nil {
			return nil, invalid(fmt.Errorf("%w: %q", ErrUnknownMobileProvider, cmd.MobileProvider))
		}
		mm.Provider = p
		method = mm
	}
	return method, nil
}

// resolveLines loads every product and checks stock. Quantities of repeated
// products are summed for the stock check.
func (h *Handler) resolveLines(ctx context.Context, items []CheckoutItem) ([]line, error) {
	lines := make([]line, 0, len(items))
	requested := make(map[string]int)
	for _, it := range items {
		p, err := h.catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			return nil, invalid(fmt.Errorf("%w: %s", catalog.ErrProductNotFound, it.ProductID))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load product %s: %w", it.ProductID, err)
		}
		if it.StoreID != "" && it.StoreID != p.SellerID {
			return nil, invalid(fmt.Errorf("%w: %s is not sold by %s", ErrStoreMismatch, p.Name, it.StoreID))
		}

		requested[p.ID] += it.Quantity
		if !p.HasStock(requested[p.ID]) {
			return nil, invalid(fmt.Errorf("%w for %s: %d available, %d requested",
				ErrInsufficientStock, p.Name, p.StockQuantity, requested[p.ID]))
		}

		lines = append(lines, line{
			product: p,
			item: order.Item{
				ProductID:   p.ID,
				Name:        p.Name,
				VariantName: it.VariantName,
				Quantity:    it.Quantity,
				UnitPrice:   p.Price,
			},
		})
	}
	return lines, nil
}

// applyCoupon returns the applied coupon and the checkout-wide discount.
// Unknown or inactive codes are ignored and reported.
func (h *Handler) applyCoupon(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time, result *CheckoutResult) (*coupon.Coupon, decimal.Decimal, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, decimal.Zero, nil
	}

	c, err := h.coupons.FindActiveByCode(ctx, code)
	if errors.Is(err, coupon.ErrCouponNotFound) {
		log.Printf("[Checkout] Coupon %s not found or inactive, ignoring", code)
		result.report(SideEffectCouponIgnored, code, err)
		return nil, decimal.Zero, nil
	}
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to load coupon: %w", err)
	}

	if err := c.Validate(now, subtotal); err != nil {
		return nil, decimal.Zero, invalid(err)
	}
	discount, err := c.Discount(subtotal)
	if err != nil {
		return nil, decimal.Zero, invalid(err)
	}
	return c, discount, nil
}

// groupBySeller keeps sellers in the order they first appear in the cart.
func (h *Handler) groupBySeller(ctx context.Context, lines []line) ([]*sellerGroup, error) {
	var groups []*sellerGroup
	index := make(map[string]*sellerGroup)
	for _, l := range lines {
		g, ok := index[l.product.SellerID]
		if !ok {
			seller, err := h.catalog.GetSeller(ctx, l.product.SellerID)
			if err != nil {
				return nil, fmt.Errorf("failed to load seller %s: %w", l.product.SellerID, err)
			}
			g = &sellerGroup{seller: seller, subtotal: decimal.Zero}
			index[seller.ID] = g
			groups = append(groups, g)
		}
		g.lines = append(g.lines, l)
		g.subtotal = g.subtotal.Add(l.item.LineTotal())
	}
	return groups, nil
}

// Apportion splits discount across shares in proportion to each share of
// their sum. Parts are truncated to cents and the remainder is handed out
// from the last share backwards, so the parts add up to discount exactly
// and no part exceeds its share. A discount above the sum is capped at it.
func Apportion(discount decimal.Decimal, shares []decimal.Decimal) []decimal.Decimal {
	parts := make([]decimal.Decimal, len(shares))
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s)
	}
	if len(shares) == 0 || !discount.IsPositive() || !total.IsPositive() {
		for i := range parts {
			parts[i] = decimal.Zero
		}
		return parts
	}

	if discount.GreaterThan(total) {
		discount = total
	}

	remainder := discount
	for i, s := range shares {
		parts[i] = decimal.Min(discount.Mul(s).Div(total).Truncate(2), s)
		remainder = remainder.Sub(parts[i])
	}
	for i := len(parts) - 1; i >= 0 && remainder.IsPositive(); i-- {
		give := decimal.Min(shares[i].Sub(parts[i]), remainder)
		if !give.IsPositive() {
			continue
		}
		parts[i] = parts[i].Add(give)
		remainder = remainder.Sub(give)
	}
	return parts
}

func (h *Handler) publishPlaced(ctx context.Context, created []*order.Order, result *CheckoutResult) {
	for _, o := range created {
		ev, err := events.New(o.ID, order.AggregateType, order.EventOrderPlaced, order.OrderPlaced{
			OrderID:       o.ID,
			SellerID:      o.SellerID,
			CustomerID:    o.CustomerID,
			TrackingToken: o.TrackingToken,
			Items:         o.Items,
			Total:         o.Total,
			Currency:      o.Currency,
			PlacedAt:      o.CreatedAt,
		})
		if err == nil {
			err = h.publisher.Publish(ctx, o.ID, ev)
		}
		if err != nil {
			log.Printf("[Checkout] Failed to publish OrderPlaced for %s: %v", o.ID, err)
			result.report(SideEffectEventPublish, o.ID, err)
		}
	}
}

func (h *Handler) notify(ctx context.Context, cmd Checkout, groups []*sellerGroup, created []*order.Order, shipping *catalog.ShippingMethod, result *CheckoutResult) {
	addr := created[0].ShippingAddress
	currency := h.cfg.Currency

	buyer := email.BuyerConfirmation{
		To:              addr.Email,
		CustomerName:    addr.FullName,
		Currency:        currency,
		Subtotal:        decimal.Zero,
		Discount:        result.Discount,
		ShippingCost:    decimal.Zero,
		Total:           decimal.Zero,
		CouponCode:      created[0].CouponCode,
		ShippingAddress: addr.String(),
		PaymentMethod:   created[0].PaymentMethod,
	}
	if shipping != nil {
		buyer.ShippingMethod = shipping.Name
	}

	for i, o := range created {
		g := groups[i]
		items := emailItems(o.Items)
		buyer.Orders = append(buyer.Orders, email.OrderSummary{
			StoreName:     g.seller.StoreName,
			TrackingToken: o.TrackingToken,
			Items:         items,
			Subtotal:      o.Subtotal,
			Discount:      o.DiscountAmount,
			ShippingCost:  o.ShippingCost,
			Total:         o.Total,
		})
		buyer.Subtotal = buyer.Subtotal.Add(o.Subtotal)
		buyer.ShippingCost = buyer.ShippingCost.Add(o.ShippingCost)
		buyer.Total = buyer.Total.Add(o.Total)

		if !g.seller.EmailNotifications || g.seller.Email == "" {
			continue
		}
		err := h.mailer.SendSellerNotification(ctx, email.SellerNotification{
			To:              g.seller.Email,
			StoreName:       g.seller.StoreName,
			OrderID:         o.ID,
			TrackingToken:   o.TrackingToken,
			Currency:        currency,
			Items:           items,
			Total:           o.Total,
			CustomerName:    o.CustomerName,
			CustomerContact: o.CustomerContact,
			CustomerEmail:   o.CustomerEmail,
			ShippingAddress: addr.String(),
			Notes:           cmd.Notes,
		})
		if err != nil {
			log.Printf("[Checkout] Failed to notify seller %s: %v", g.seller.ID, err)
			result.report(SideEffectSellerEmail, g.seller.ID, err)
		}
	}

	if buyer.To == "" {
		result.report(SideEffectBuyerEmail, "", email.ErrNoRecipient)
		return
	}
	if err := h.mailer.SendBuyerConfirmation(ctx, buyer); err != nil {
		log.Printf("[Checkout] Failed to send confirmation to %s: %v", buyer.To, err)
		result.report(SideEffectBuyerEmail, buyer.To, err)
	}
}

func emailItems(items []order.Item) []email.OrderItem {
	out := make([]email.OrderItem, len(items))
	for i, it := range items {
		out[i] = email.OrderItem{
			Name:      it.Name,
			Variant:   it.VariantName,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return out
}

// createPayments opens one payment per order unless the buyer pays cash on
// delivery. A failure for one order does not stop the others.
func (h *Handler) createPayments(ctx context.Context, cmd Checkout, method payment.Method, groups []*sellerGroup, created []*order.Order, result *CheckoutResult) []PaymentResult {
	out := []PaymentResult{}
	if _, cod := method.(payment.CashOnDelivery); cod {
		return out
	}

	for i, o := range created {
		seller := groups[i].seller
		amount, currency := h.convert(o.Total, seller.Currency)

		pr := PaymentResult{OrderID: o.ID}
		resp, err := h.payments.CreatePayment(ctx, payment.Request{
			OrderID:        o.ID,
			SellerID:       o.SellerID,
			CustomerID:     o.CustomerID,
			Method:         method,
			Amount:         amount,
			Currency:       currency,
			PayerName:      o.CustomerName,
			PayerEmail:     o.CustomerEmail,
			OrderReference: o.TrackingToken,
			Description:    fmt.Sprintf("%s order %s", seller.StoreName, o.TrackingToken),
		})
		if err != nil {
			log.Printf("[Checkout] Payment for order %s failed: %v", o.ID, err)
			pr.Error = err.Error()
			result.report(SideEffectPayment, o.ID, err)
		} else {
			pr.Payment = resp
		}
		out = append(out, pr)
	}
	return out
}

// convert turns an order total into the seller's settlement currency. With
// no configured rate the amount is used as is.
func (h *Handler) convert(amount decimal.Decimal, sellerCurrency string) (decimal.Decimal, string) {
	target := strings.ToUpper(sellerCurrency)
	if target == "" || target == h.cfg.Currency {
		return amount, h.cfg.Currency
	}
	rate, ok := h.cfg.Rates[target]
	if !ok {
		return amount, h.cfg.Currency
	}
	return amount.Mul(rate).Round(2), target
}
