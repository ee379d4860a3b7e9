package payment

import "fmt"

type MethodName string

const (
	MethodMpesa          MethodName = "mpesa"
	MethodBankTransfer   MethodName = "bank_transfer"
	MethodCashOnDelivery MethodName = "cash_on_delivery"
)

// ParseMethodName validates the wire name of a payment method.
func ParseMethodName(s string) (MethodName, error) {
	switch m := MethodName(s); m {
	case MethodMpesa, MethodBankTransfer, MethodCashOnDelivery:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
}

// Method is the closed set of ways a buyer can pay. Only the types in this
// package implement it.
type Method interface {
	Name() MethodName
	isMethod()
}

// MobileMoney pays from a carrier wallet. Provider may be empty, in which
// case it is derived from the phone number or the configured default.
type MobileMoney struct {
	Phone    string
	Provider Provider
}

type BankTransfer struct{}

type CashOnDelivery struct{}

func (MobileMoney) Name() MethodName    { return MethodMpesa }
func (BankTransfer) Name() MethodName   { return MethodBankTransfer }
func (CashOnDelivery) Name() MethodName { return MethodCashOnDelivery }

func (MobileMoney) isMethod()    {}
func (BankTransfer) isMethod()   {}
func (CashOnDelivery) isMethod() {}

// NewMethod builds the variant for name. phone is only used by mobile money.
func NewMethod(name MethodName, phone string) (Method, error) {
	switch name {
	case MethodMpesa:
		if phone == "" {
			return nil, ErrPhoneRequired
		}
		return MobileMoney{Phone: phone}, nil
	case MethodBankTransfer:
		return BankTransfer{}, nil
	case MethodCashOnDelivery:
		return CashOnDelivery{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, name)
}
