package mpesa

import (
	"log"

	"github.com/example/marketplace/internal/domain/payment"
)

// Gateways builds the gateway of every provider for mode. In sandbox mode
// each provider is served by the sandbox. In live mode only providers with
// complete credentials get a client; the payment service fails requests for
// the others.
func Gateways(mode payment.Mode, creds map[payment.Provider]payment.Credentials, opts ...ClientOption) map[payment.Provider]payment.Gateway {
	all := []payment.Provider{payment.ProviderVodacom, payment.ProviderSafaricom}
	out := make(map[payment.Provider]payment.Gateway, len(all))

	if mode != payment.ModeLive {
		sandbox := NewSandboxGateway()
		for _, p := range all {
			out[p] = sandbox
		}
		return out
	}

	for _, p := range all {
		c, ok := creds[p]
		if !ok {
			log.Printf("[Mpesa] No credentials for %s, live payments disabled", p)
			continue
		}
		client, err := NewClient(p, c, opts...)
		if err != nil {
			log.Printf("[Mpesa] %v, live payments disabled", err)
			continue
		}
		out[p] = client
	}
	return out
}

// Options turns the gateways into payment service options.
func Options(gateways map[payment.Provider]payment.Gateway) []payment.Option {
	opts := make([]payment.Option, 0, len(gateways))
	for p, gw := range gateways {
		opts = append(opts, payment.WithGateway(p, gw))
	}
	return opts
}
