package email

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNoRecipient = errors.New("email recipient is empty")

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	Name      string
	Variant   string
	Quantity  int
	UnitPrice decimal.Decimal
}

// OrderSummary is one seller's order inside a buyer confirmation.
type OrderSummary struct {
	StoreName     string
	TrackingToken string
	Items         []OrderItem
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	ShippingCost  decimal.Decimal
	Total         decimal.Decimal
}

type BuyerConfirmation struct {
	To              string
	CustomerName    string
	Currency        string
	Orders          []OrderSummary
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	ShippingCost    decimal.Decimal
	Total           decimal.Decimal
	CouponCode      string
	ShippingAddress string
	ShippingMethod  string
	PaymentMethod   string
}

type SellerNotification struct {
	To              string
	StoreName       string
	OrderID         string
	TrackingToken   string
	Currency        string
	Items           []OrderItem
	Total           decimal.Decimal
	CustomerName    string
	CustomerContact string
	CustomerEmail   string
	ShippingAddress string
	Notes           string
}

type PaymentReceipt struct {
	To        string
	PayerName string
	PaymentID string
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Succeeded bool
	Reason    string
}

const (
	pageStart = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: %s; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">%s</h1>
	</div>
	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
`
	pageEnd = `		<hr style="border: none; border-top: 1px solid #eee; margin: 30px 0;">
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This is an automated message from the marketplace. Please do not reply.</p>
	</div>
</body>
</html>`

	brandColor   = "#0f766e"
	warningColor = "#b91c1c"
)

// BuildBuyerConfirmationBody builds the HTML body of the checkout summary.
func BuildBuyerConfirmationBody(msg BuyerConfirmation) string {
	var b strings.Builder
	fmt.Fprintf(&b, pageStart, brandColor, "Thank you for your order")
	fmt.Fprintf(&b, "\t\t<p style=\"margin-top: 0;\">Hi %s, your checkout was split into %d order(s), one per store.</p>\n",
		esc(msg.CustomerName), len(msg.Orders))

	for _, o := range msg.Orders {
		fmt.Fprintf(&b, "\t\t<h2 style=\"font-size: 18px; border-bottom: 2px solid %s; padding-bottom: 10px;\">%s</h2>\n", brandColor, esc(o.StoreName))
		fmt.Fprintf(&b, "\t\t<p>Tracking number: <strong style=\"font-family: monospace;\">%s</strong></p>\n", esc(o.TrackingToken))
		writeItemsTable(&b, msg.Currency, o.Items)
		writeAmountRow(&b, "Subtotal", msg.Currency, o.Subtotal)
		if o.Discount.IsPositive() {
			writeAmountRow(&b, "Discount", msg.Currency, o.Discount.Neg())
		}
		if o.ShippingCost.IsPositive() {
			writeAmountRow(&b, "Shipping", msg.Currency, o.ShippingCost)
		}
		writeAmountRow(&b, "Order total", msg.Currency, o.Total)
	}

	b.WriteString("\t\t<div style=\"text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px; margin-top: 20px;\">\n")
	writeAmountRow(&b, "Items", msg.Currency, msg.Subtotal)
	if msg.Discount.IsPositive() {
		label := "Discount"
		if msg.CouponCode != "" {
			label = fmt.Sprintf("Discount (%s)", esc(msg.CouponCode))
		}
		writeAmountRow(&b, label, msg.Currency, msg.Discount.Neg())
	}
	writeAmountRow(&b, "Shipping", msg.Currency, msg.ShippingCost)
	fmt.Fprintf(&b, "\t\t\t<p style=\"font-size: 24px; font-weight: bold; color: %s; margin: 10px 0 0 0;\">Total %s</p>\n",
		brandColor, FormatMoney(msg.Currency, msg.Total))
	b.WriteString("\t\t</div>\n")

	fmt.Fprintf(&b, "\t\t<p><strong>Ship to:</strong> %s</p>\n", esc(msg.ShippingAddress))
	if msg.ShippingMethod != "" {
		fmt.Fprintf(&b, "\t\t<p><strong>Shipping method:</strong> %s</p>\n", esc(msg.ShippingMethod))
	}
	fmt.Fprintf(&b, "\t\t<p><strong>Payment method:</strong> %s</p>\n", esc(PaymentMethodLabel(msg.PaymentMethod)))
	b.WriteString(pageEnd)
	return b.String()
}

// BuildSellerNotificationBody builds the HTML body sent to a store owner.
func BuildSellerNotificationBody(msg SellerNotification) string {
	var b strings.Builder
	fmt.Fprintf(&b, pageStart, brandColor, "You have a new order")
	fmt.Fprintf(&b, "\t\t<p style=\"margin-top: 0;\">A customer placed an order in <strong>%s</strong>.</p>\n", esc(msg.StoreName))
	fmt.Fprintf(&b, "\t\t<p>Order: <span style=\"font-family: monospace;\">%s</span><br>Tracking number: <span style=\"font-family: monospace;\">%s</span></p>\n",
		esc(msg.OrderID), esc(msg.TrackingToken))
	writeItemsTable(&b, msg.Currency, msg.Items)
	writeAmountRow(&b, "Order total", msg.Currency, msg.Total)

	b.WriteString("\t\t<h2 style=\"font-size: 18px;\">Customer</h2>\n")
	fmt.Fprintf(&b, "\t\t<p>%s<br>%s", esc(msg.CustomerName), esc(msg.CustomerContact))
	if msg.CustomerEmail != "" {
		fmt.Fprintf(&b, "<br>%s", esc(msg.CustomerEmail))
	}
	b.WriteString("</p>\n")
	fmt.Fprintf(&b, "\t\t<p><strong>Ship to:</strong> %s</p>\n", esc(msg.ShippingAddress))
	if msg.Notes != "" {
		fmt.Fprintf(&b, "\t\t<p><strong>Notes:</strong> %s</p>\n", esc(msg.Notes))
	}
	b.WriteString(pageEnd)
	return b.String()
}

// BuildPaymentReceiptBody builds the HTML body of a payment outcome notice.
func BuildPaymentReceiptBody(msg PaymentReceipt) string {
	var b strings.Builder
	if msg.Succeeded {
		fmt.Fprintf(&b, pageStart, brandColor, "Payment received")
		fmt.Fprintf(&b, "\t\t<p style=\"margin-top: 0;\">Hi %s, we received your payment of <strong>%s</strong>.</p>\n",
			esc(msg.PayerName), FormatMoney(msg.Currency, msg.Amount))
	} else {
		fmt.Fprintf(&b, pageStart, warningColor, "Payment failed")
		fmt.Fprintf(&b, "\t\t<p style=\"margin-top: 0;\">Hi %s, your payment of <strong>%s</strong> could not be completed.</p>\n",
			esc(msg.PayerName), FormatMoney(msg.Currency, msg.Amount))
		if msg.Reason != "" {
			fmt.Fprintf(&b, "\t\t<p>Reason: %s</p>\n", esc(msg.Reason))
		}
		b.WriteString("\t\t<p>You can retry the payment or contact the seller.</p>\n")
	}
	fmt.Fprintf(&b, "\t\t<p style=\"font-size: 14px; color: #666;\">Payment %s for order %s</p>\n", esc(msg.PaymentID), esc(msg.OrderID))
	b.WriteString(pageEnd)
	return b.String()
}

func writeItemsTable(b *strings.Builder, currency string, items []OrderItem) {
	b.WriteString(`		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left; font-weight: 600;">Item</th>
					<th style="padding: 12px; text-align: center; font-weight: 600;">Qty</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Price</th>
					<th style="padding: 12px; text-align: right; font-weight: 600;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
`)
	for _, item := range items {
		name := item.Name
		if item.Variant != "" {
			name = fmt.Sprintf("%s (%s)", name, item.Variant)
		}
		fmt.Fprintf(b, `				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
				</tr>
`,
			esc(name),
			item.Quantity,
			FormatMoney(currency, item.UnitPrice),
			FormatMoney(currency, item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		)
	}
	b.WriteString("\t\t\t</tbody>\n\t\t</table>\n")
}

func writeAmountRow(b *strings.Builder, label, currency string, amount decimal.Decimal) {
	fmt.Fprintf(b, "\t\t\t<p style=\"margin: 4px 0; text-align: right;\"><span style=\"color: #666;\">%s</span> %s</p>\n",
		label, FormatMoney(currency, amount))
}

// PaymentMethodLabel renders a payment method wire name for humans.
func PaymentMethodLabel(method string) string {
	switch method {
	case "mpesa":
		return "M-Pesa"
	case "bank_transfer":
		return "Bank transfer"
	case "cash_on_delivery":
		return "Cash on delivery"
	}
	return method
}

// FormatMoney renders an amount with thousands separators and two decimals,
// e.g. "TZS 12,500.00".
func FormatMoney(currency string, amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	whole, frac, _ := strings.Cut(amount.StringFixed(2), ".")
	s := sign + formatNumber(whole) + "." + frac
	if currency == "" {
		return s
	}
	return currency + " " + s
}

// formatNumber inserts comma separators into a string of digits
func formatNumber(str string) string {
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		result.WriteString(",")
	}

	for i := remainder; i < len(str); i += 3 {
		result.WriteString(str[i : i+3])
		if i+3 < len(str) {
			result.WriteString(",")
		}
	}

	return result.String()
}

func esc(s string) string {
	return html.EscapeString(s)
}
