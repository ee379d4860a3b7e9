package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound        = errors.New("product not found")
	ErrSellerNotFound         = errors.New("seller not found")
	ErrShippingMethodNotFound = errors.New("shipping method not found")
)

// Product is the subset of a listing the checkout needs.
type Product struct {
	ID             string          `json:"id"`
	SellerID       string          `json:"seller_id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	TrackInventory bool            `json:"track_inventory"`
	StockQuantity  int             `json:"stock_quantity"`
}

// HasStock reports whether qty units can be sold. Products that do not
// track inventory always have stock.
func (p *Product) HasStock(qty int) bool {
	return !p.TrackInventory || p.StockQuantity >= qty
}

// Seller is a storefront on the marketplace.
type Seller struct {
	ID                 string `json:"id"`
	StoreName          string `json:"store_name"`
	Email              string `json:"email"`
	EmailNotifications bool   `json:"email_notifications"`
	Currency           string `json:"currency"`
}

type ShippingMethod struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Cost          decimal.Decimal `json:"cost"`
	EstimatedDays int             `json:"estimated_days"`
}

// Repository reads catalog rows and adjusts stock.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetSeller(ctx context.Context, id string) (*Seller, error)
	GetShippingMethod(ctx context.Context, id string) (*ShippingMethod, error)

	// DecrementStock lowers the stock of a tracked product by qty in a single
	// conditional write, flooring at zero, and returns the remaining stock.
	DecrementStock(ctx context.Context, productID string, qty int) (int, error)
}
