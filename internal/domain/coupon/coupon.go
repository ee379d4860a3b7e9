package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Unlimited is the MaxUses value of a coupon without a usage cap.
const Unlimited = -1

var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponNotYetValid = errors.New("coupon is not yet valid")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrMinimumNotMet     = errors.New("order does not meet the coupon minimum amount")
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	ErrInvalidCouponType = errors.New("invalid coupon type")
)

type Coupon struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Type           Type            `json:"type"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	MaxUses        int             `json:"max_uses"`
	UsedCount      int             `json:"used_count"`
	ValidFrom      *time.Time      `json:"valid_from,omitempty"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	Active         bool            `json:"active"`
}

// NormalizeCode canonicalizes a code for lookup. Codes are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Capped reports whether the coupon has a usage cap.
func (c *Coupon) Capped() bool {
	return c.MaxUses != Unlimited
}

// Validate checks the validity window, minimum amount and usage cap for an
// order of the given subtotal at time now.
func (c *Coupon) Validate(now time.Time, subtotal decimal.Decimal) error {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrCouponNotYetValid
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrCouponExpired
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return fmt.Errorf("%w: minimum is %s", ErrMinimumNotMet, c.MinOrderAmount.StringFixed(2))
	}
	if c.Capped() && c.UsedCount >= c.MaxUses {
		return ErrUsageLimitReached
	}
	return nil
}

// Discount computes the discount for subtotal. The result is never negative
// and never exceeds subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch c.Type {
	case TypePercentage:
		d = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	case TypeFixed:
		d = c.Value
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCouponType, c.Type)
	}
	if d.IsNegative() {
		return decimal.Zero, nil
	}
	return decimal.Min(d, subtotal), nil
}

type Repository interface {
	// FindActiveByCode returns the active coupon with the given normalized
	// code, or ErrCouponNotFound.
	FindActiveByCode(ctx context.Context, code string) (*Coupon, error)

	// IncrementUsage bumps used_count by one unless the cap has been reached,
	// in which case it returns ErrUsageLimitReached.
	IncrementUsage(ctx context.Context, id string) error
}
