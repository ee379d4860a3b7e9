package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/marketplace/internal/domain/catalog"
	"github.com/example/marketplace/internal/domain/coupon"
	"github.com/example/marketplace/internal/domain/order"
	"github.com/example/marketplace/internal/domain/payment"
)

// The Memory* stores back local runs and tests. Each one returns copies so
// callers never share state with the store. The *Err fields, when set, are
// returned by the matching write.

type MemoryCatalog struct {
	mu           sync.RWMutex
	products     map[string]catalog.Product
	sellers      map[string]catalog.Seller
	shipping     map[string]catalog.ShippingMethod
	DecrementErr error
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		products: make(map[string]catalog.Product),
		sellers:  make(map[string]catalog.Seller),
		shipping: make(map[string]catalog.ShippingMethod),
	}
}

func (s *MemoryCatalog) AddProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemoryCatalog) AddSeller(sl catalog.Seller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sl.ID] = sl
}

func (s *MemoryCatalog) AddShippingMethod(m catalog.ShippingMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipping[m.ID] = m
}

func (s *MemoryCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (s *MemoryCatalog) GetSeller(_ context.Context, id string) (*catalog.Seller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.sellers[id]
	if !ok {
		return nil, catalog.ErrSellerNotFound
	}
	return &sl, nil
}

func (s *MemoryCatalog) GetShippingMethod(_ context.Context, id string) (*catalog.ShippingMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.shipping[id]
	if !ok {
		return nil, catalog.ErrShippingMethodNotFound
	}
	return &m, nil
}

func (s *MemoryCatalog) DecrementStock(_ context.Context, productID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DecrementErr != nil {
		return 0, s.DecrementErr
	}
	p, ok := s.products[productID]
	if !ok {
		return 0, catalog.ErrProductNotFound
	}
	if p.TrackInventory {
		p.StockQuantity = max(p.StockQuantity-qty, 0)
		s.products[productID] = p
	}
	return p.StockQuantity, nil
}

type MemoryCoupons struct {
	mu           sync.RWMutex
	coupons      map[string]coupon.Coupon
	IncrementErr error
}

func NewMemoryCoupons() *MemoryCoupons {
	return &MemoryCoupons{coupons: make(map[string]coupon.Coupon)}
}

func (s *MemoryCoupons) Add(c coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	s.coupons[c.ID] = c
}

// Get is a test helper returning the stored coupon by id.
func (s *MemoryCoupons) Get(id string) (coupon.Coupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.coupons[id]
	return c, ok
}

func (s *MemoryCoupons) FindActiveByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code = coupon.NormalizeCode(code)
	for _, c := range s.coupons {
		if c.Code == code && c.Active {
			return &c, nil
		}
	}
	return nil, coupon.ErrCouponNotFound
}

func (s *MemoryCoupons) IncrementUsage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IncrementErr != nil {
		return s.IncrementErr
	}
	c, ok := s.coupons[id]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if c.Capped() && c.UsedCount >= c.MaxUses {
		return coupon.ErrUsageLimitReached
	}
	c.UsedCount++
	s.coupons[id] = c
	return nil
}

type MemoryOrders struct {
	mu        sync.RWMutex
	orders    map[string]*order.Order
	ids       []string
	CreateErr error
}

func NewMemoryOrders() *MemoryOrders {
	return &MemoryOrders{orders: make(map[string]*order.Order)}
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	cp.StatusHistory = append([]order.StatusChange(nil), o.StatusHistory...)
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		cp.BillingAddress = &addr
	}
	return &cp
}

func (s *MemoryOrders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.orders[o.ID] = copyOrder(o)
	s.ids = append(s.ids, o.ID)
	return nil
}

func (s *MemoryOrders) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryOrders) GetByTrackingToken(_ context.Context, token string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.TrackingToken == token {
			return copyOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *MemoryOrders) AppendStatus(_ context.Context, id string, change order.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = change.Status
	o.StatusHistory = append(o.StatusHistory, change)
	return nil
}

// All returns every order in creation order.
func (s *MemoryOrders) All() []*order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*order.Order, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, copyOrder(s.orders[id]))
	}
	return out
}

type MemoryPayments struct {
	mu        sync.RWMutex
	payments  map[string]*payment.Payment
	CreateErr error
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{payments: make(map[string]*payment.Payment)}
}

func copyPayment(p *payment.Payment) *payment.Payment {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *MemoryPayments) Create(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *MemoryPayments) Get(_ context.Context, id string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (s *MemoryPayments) find(match func(*payment.Payment) bool) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if match(p) {
			return copyPayment(p), nil
		}
	}
	return nil, payment.ErrPaymentNotFound
}

func (s *MemoryPayments) FindByExternalReference(_ context.Context, ref string) (*payment.Payment, error) {
	return s.find(func(p *payment.Payment) bool { return ref != "" && p.ExternalReference == ref })
}

func (s *MemoryPayments) FindByExternalID(_ context.Context, externalID string) (*payment.Payment, error) {
	return s.find(func(p *payment.Payment) bool { return externalID != "" && p.ExternalID == externalID })
}

func (s *MemoryPayments) Update(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return payment.ErrPaymentNotFound
	}
	s.payments[p.ID] = copyPayment(p)
	return nil
}

func (s *MemoryPayments) SetExternalIDs(_ context.Context, id, externalID, externalRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return payment.ErrPaymentNotFound
	}
	if p.ExternalID == "" {
		p.ExternalID = externalID
	}
	if p.ExternalReference == "" {
		p.ExternalReference = externalRef
	}
	return nil
}

func (s *MemoryPayments) ListBySeller(_ context.Context, sellerID string, from, to *time.Time) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payment.Payment
	for _, p := range s.payments {
		if p.SellerID != sellerID {
			continue
		}
		if from != nil && p.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && p.CreatedAt.After(*to) {
			continue
		}
		out = append(out, copyPayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// All returns every payment, oldest first.
func (s *MemoryPayments) All() []*payment.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*payment.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, copyPayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type MemoryHistory struct {
	mu        sync.RWMutex
	entries   map[string][]payment.HistoryEntry
	AppendErr error
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[string][]payment.HistoryEntry)}
}

func (s *MemoryHistory) Append(_ context.Context, entry payment.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.entries[entry.PaymentID] = append(s.entries[entry.PaymentID], entry)
	return nil
}

func (s *MemoryHistory) List(_ context.Context, paymentID string) ([]payment.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payment.HistoryEntry(nil), s.entries[paymentID]...), nil
}

type MemoryInstructions struct {
	mu   sync.RWMutex
	list []payment.Instructions
}

func NewMemoryInstructions() *MemoryInstructions {
	return &MemoryInstructions{}
}

func (s *MemoryInstructions) Add(in payment.Instructions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, in)
}

func (s *MemoryInstructions) ListActive(_ context.Context, sellerID string, method payment.MethodName) ([]payment.Instructions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []payment.Instructions
	for _, in := range s.list {
		if in.SellerID == sellerID && in.Method == method && in.Active {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}
