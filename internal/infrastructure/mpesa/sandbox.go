package mpesa

import (
	"context"
	"log"

	"github.com/example/marketplace/internal/domain/payment"
)

// SandboxGateway accepts every request without contacting the carrier.
// The conversation id is derived from the reference so sandbox webhooks
// can be replayed by hand.
type SandboxGateway struct{}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

func (g *SandboxGateway) Initiate(_ context.Context, req payment.GatewayRequest) (*payment.GatewayResult, error) {
	log.Printf("[MpesaSandbox] Simulated %s push of %s %s to %s (ref %s)",
		req.Provider, req.Currency, req.Amount.StringFixed(2), req.Phone, req.Reference)
	return &payment.GatewayResult{
		ConversationID: "MOCK_" + req.Reference,
		Description:    "Sandbox request accepted",
	}, nil
}
