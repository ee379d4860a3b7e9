package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is a national mobile-money carrier behind the mpesa method.
type Provider string

const (
	ProviderVodacom   Provider = "vodacom"   // Tanzania
	ProviderSafaricom Provider = "safaricom" // Kenya
)

type providerInfo struct {
	countryCode string
	successCode string
	currency    string
}

var providers = map[Provider]providerInfo{
	ProviderVodacom:   {countryCode: "255", successCode: "INS-0", currency: "TZS"},
	ProviderSafaricom: {countryCode: "254", successCode: "0", currency: "KES"},
}

// ParseProvider validates a provider name.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := providers[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return p, nil
}

// Currency is the wallet currency of the provider.
func (p Provider) Currency() string {
	return providers[p].currency
}

// Succeeded maps a provider result code to the payment outcome.
func (p Provider) Succeeded(resultCode string) bool {
	info, ok := providers[p]
	return ok && strings.TrimSpace(resultCode) == info.successCode
}

// DetectProvider guesses the carrier from an international phone number.
func DetectProvider(phone string) (Provider, bool) {
	digits := onlyDigits(phone)
	for p, info := range providers {
		if strings.HasPrefix(digits, info.countryCode) && len(digits) == len(info.countryCode)+9 {
			return p, true
		}
	}
	return "", false
}

// FormatPhone converts a local or international number into the
// country-code-prefixed form the carrier API expects, e.g. 255712345678.
func FormatPhone(p Provider, phone string) (string, error) {
	info, ok := providers[p]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	digits := onlyDigits(phone)
	switch {
	case strings.HasPrefix(digits, info.countryCode) && len(digits) == len(info.countryCode)+9:
		return digits, nil
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return info.countryCode + digits[1:], nil
	case len(digits) == 9:
		return info.countryCode + digits, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NewTransactionReference returns the internal reference sent to the
// carrier and echoed back in its webhook.
func NewTransactionReference(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return "MKT" + strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)+suffix)
}

// Mode selects between the mocked carrier and the real one.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSandbox, ModeLive:
		return m, nil
	case "":
		return ModeSandbox, nil
	}
	return "", fmt.Errorf("invalid payment mode %q", s)
}

// Credentials authenticate against one provider's API.
type Credentials struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	ShortCode      string `yaml:"short_code"`
	PassKey        string `yaml:"pass_key"`
	BaseURL        string `yaml:"base_url"`
	CallbackURL    string `yaml:"callback_url"`
}

// Complete reports whether every field a live call needs is present.
func (c Credentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.ShortCode != "" && c.BaseURL != ""
}

type GatewayConfig struct {
	Mode            Mode
	DefaultProvider Provider
}

type GatewayRequest struct {
	Provider    Provider
	Phone       string
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Description string
}

type GatewayResult struct {
	// ConversationID is the carrier's id for the request; it is stored as
	// the payment external id.
	ConversationID string
	Description    string
	// ChargedAmount is what the carrier will debit, e.g. after rounding to
	// whole units. Zero means the requested amount.
	ChargedAmount  decimal.Decimal
}

// Gateway initiates a push payment on the payer's handset.
type Gateway interface {
	Initiate(ctx context.Context, req GatewayRequest) (*GatewayResult, error)
}
