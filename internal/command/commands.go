package command

import (
	"github.com/shopspring/decimal"

	"github.com/example/marketplace/internal/domain/order"
)

// Checkout Commands
type CheckoutItem struct {
	ProductID   string          `json:"productId"`
	StoreID     string          `json:"storeId"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	VariantName string          `json:"variantName,omitempty"`
}

type Address struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

func (a Address) toOrder() order.Address {
	return order.Address{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Email:      a.Email,
		Line1:      a.Address,
		Line2:      a.Address2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type Checkout struct {
	// CustomerID is taken from the access token, never from the body.
	CustomerID string `json:"-"`

	Items           []CheckoutItem `json:"items"`
	ShippingAddress *Address       `json:"shippingAddress"`
	BillingAddress  *Address       `json:"billingAddress,omitempty"`
	ShippingMethod  string         `json:"shippingMethod,omitempty"`
	PaymentMethod   string         `json:"paymentMethod"`
	CustomerPhone   string         `json:"customerPhone,omitempty"`
	MobileProvider  string         `json:"mobileProvider,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	CouponCode      string         `json:"couponCode,omitempty"`
	GuestCheckout   bool           `json:"guestCheckout,omitempty"`
}
