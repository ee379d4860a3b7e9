package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

var ErrMalformedWebhook = errors.New("malformed webhook payload")

// WebhookPayload is the carrier callback body. Field names follow the
// carrier's API.
type WebhookPayload struct {
	TransactionReference string `json:"input_TransactionReference"`
	ConversationID       string `json:"input_ConversationID"`
	ResultCode           string `json:"input_ResultCode"`
	ResultDesc           string `json:"input_ResultDesc"`
	TransactionID        string `json:"input_TransactionID"`

	// Raw holds every field of the delivery and is merged into the payment
	// metadata.
	Raw map[string]any `json:"-"`
}

func (w WebhookPayload) metadata() map[string]any {
	if w.Raw != nil {
		return w.Raw
	}
	return map[string]any{
		"input_TransactionReference": w.TransactionReference,
		"input_ConversationID":       w.ConversationID,
		"input_ResultCode":           w.ResultCode,
		"input_ResultDesc":           w.ResultDesc,
		"input_TransactionID":        w.TransactionID,
	}
}

// stkCallback is the nested callback shape used by the Kenyan carrier.
type stkCallback struct {
	Body struct {
		StkCallback *stkResult `json:"stkCallback"`
	} `json:"Body"`
}

type stkResult struct {
	MerchantRequestID string       `json:"MerchantRequestID"`
	CheckoutRequestID string       `json:"CheckoutRequestID"`
	ResultCode        json.Number  `json:"ResultCode"`
	ResultDesc        string       `json:"ResultDesc"`
	CallbackMetadata  *stkMetadata `json:"CallbackMetadata"`
}

type stkMetadata struct {
	Item []struct {
		Name  string `json:"Name"`
		Value any    `json:"Value"`
	} `json:"Item"`
}

// ParseWebhookPayload decodes a carrier callback body. Both the flat
// input_* shape and the nested stkCallback shape are accepted; Raw keeps the
// whole document.
func ParseWebhookPayload(body []byte) (WebhookPayload, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookPayload{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	var nested stkCallback
	if err := json.Unmarshal(body, &nested); err == nil && nested.Body.StkCallback != nil {
		cb := nested.Body.StkCallback
		payload := WebhookPayload{
			ConversationID: cb.CheckoutRequestID,
			ResultCode:     cb.ResultCode.String(),
			ResultDesc:     cb.ResultDesc,
			Raw:            raw,
		}
		if cb.CallbackMetadata != nil {
			for _, item := range cb.CallbackMetadata.Item {
				if item.Name == "MpesaReceiptNumber" {
					payload.TransactionID = fmt.Sprint(item.Value)
				}
			}
		}
		return payload, nil
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookPayload{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	payload.Raw = raw
	return payload, nil
}

// dedupKey identifies one delivery of one callback.
func (w WebhookPayload) dedupKey(p Provider) string {
	return strings.Join([]string{"webhook", string(p), w.TransactionReference, w.ConversationID, w.ResultCode}, ":")
}

type WebhookResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId,omitempty"`
	Status    Status `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ProcessWebhook finalizes a mobile-money payment from a carrier callback.
// It never returns an error: failures are reported in the result so the
// carrier receives an acknowledgement and does not retry.
func (s *Service) ProcessWebhook(ctx context.Context, provider Provider, payload WebhookPayload) WebhookResult {
	if _, ok := providers[provider]; !ok {
		return WebhookResult{Success: false, Error: fmt.Sprintf("Unknown provider %q", provider)}
	}

	p, err := s.findWebhookPayment(ctx, payload)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Printf("[Webhook] No payment for reference=%q conversation=%q", payload.TransactionReference, payload.ConversationID)
			return WebhookResult{Success: false, Error: "Payment not found"}
		}
		log.Printf("[Webhook] Lookup failed: %v", err)
		return WebhookResult{Success: false, Error: err.Error()}
	}

	status := StatusFailed
	if provider.Succeeded(payload.ResultCode) {
		status = StatusCompleted
	}

	var key string
	if s.deduper != nil {
		key = payload.dedupKey(provider)
		claimed, existing, err := s.deduper.Claim(ctx, key, p.ID+"|"+string(status))
		switch {
		case err != nil:
			log.Printf("[Webhook] Dedup unavailable, processing anyway: %v", err)
			key = ""
		case !claimed:
			log.Printf("[Webhook] Duplicate delivery for payment %s ignored", p.ID)
			id, st, _ := strings.Cut(existing, "|")
			return WebhookResult{Success: true, PaymentID: id, Status: Status(st), Duplicate: true}
		}
	}

	if payload.TransactionID != "" {
		p.ConfirmationCode = payload.TransactionID
	}
	reason := payload.ResultDesc
	if reason == "" {
		reason = fmt.Sprintf("Gateway result code %s", payload.ResultCode)
	}

	if err := s.transition(ctx, p, status, reason, ActorWebhook, payload.metadata()); err != nil {
		log.Printf("[Webhook] Failed to apply %s to payment %s: %v", status, p.ID, err)
		if key != "" {
			if rerr := s.deduper.Release(ctx, key); rerr != nil {
				log.Printf("[Webhook] Failed to release dedup key: %v", rerr)
			}
		}
		return WebhookResult{Success: false, PaymentID: p.ID, Error: err.Error()}
	}

	if status == StatusCompleted && s.orders != nil {
		if err := s.orders.ConfirmPayment(ctx, p.OrderID, p.ID); err != nil {
			log.Printf("[Webhook] Failed to confirm order %s: %v", p.OrderID, err)
		}
	}

	log.Printf("[Webhook] Payment %s is now %s", p.ID, status)
	return WebhookResult{Success: true, PaymentID: p.ID, Status: status}
}

// findWebhookPayment matches on our transaction reference first and falls
// back to the carrier conversation id.
func (s *Service) findWebhookPayment(ctx context.Context, payload WebhookPayload) (*Payment, error) {
	if payload.TransactionReference != "" {
		p, err := s.payments.FindByExternalReference(ctx, payload.TransactionReference)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if payload.ConversationID != "" {
		return s.payments.FindByExternalID(ctx, payload.ConversationID)
	}
	return nil, ErrPaymentNotFound
}
