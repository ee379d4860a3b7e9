package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/marketplace/internal/api/middleware"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/query"
)

// PaymentWebhook handles POST /api/payments/webhook/{provider}. It always
// answers 200 so the carrier does not retry; the outcome is in the body.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	name := extractPathParam(r.URL.Path, "/api/payments/webhook/")
	provider, err := payment.ParseProvider(name)
	if err != nil {
		respondJSON(w, http.StatusOK, payment.WebhookResult{Error: err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusOK, payment.WebhookResult{Error: "unreadable body"})
		return
	}
	payload, err := payment.ParseWebhookPayload(body)
	if err != nil {
		log.Printf("[API] Rejected %s webhook: %v", provider, err)
		respondJSON(w, http.StatusOK, payment.WebhookResult{Error: err.Error()})
		return
	}

	result := h.payments.ProcessWebhook(r.Context(), provider, payload)
	if h.metrics != nil {
		h.metrics.ObserveWebhook(provider, result)
	}
	respondJSON(w, http.StatusOK, result)
}

// GetPayment handles GET /api/payments/{id}.
func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/api/payments/")

	detail, ok := h.loadOwnedPayment(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

type updateStatusRequest struct {
	Status   string         `json:"status"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

// UpdatePaymentStatus handles POST /api/payments/{id}/status, used by
// sellers to confirm a bank transfer or cash collection.
func (h *Handlers) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(extractPathParam(r.URL.Path, "/api/payments/"), "/status")

	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, err := payment.ParseStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, ok := h.loadOwnedPayment(w, r, id); !ok {
		return
	}
	actor := middleware.Actor(r.Context())

	p, err := h.payments.UpdatePaymentStatus(r.Context(), id, status, req.Reason, actor, req.Metadata)
	switch {
	case errors.Is(err, payment.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, payment.ErrPaymentNotFound):
		respondError(w, http.StatusNotFound, "Payment not found")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// loadOwnedPayment fetches the payment and checks the caller may see it.
// On failure the response has been written.
func (h *Handlers) loadOwnedPayment(w http.ResponseWriter, r *http.Request, id string) (*query.PaymentDetail, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	detail, err := h.queryHandler.GetPayment(r.Context(), id)
	if errors.Is(err, payment.ErrPaymentNotFound) {
		respondError(w, http.StatusNotFound, "Payment not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if !claims.CanAccessSeller(detail.Payment.SellerID) {
		respondError(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return detail, true
}

// RevenueSummary handles GET /api/sellers/{id}/revenue?from=&to=. Bounds
// are RFC 3339 timestamps or dates; a date-only upper bound covers the
// whole day.
func (h *Handlers) RevenueSummary(w http.ResponseWriter, r *http.Request) {
	rest := extractPathParam(r.URL.Path, "/api/sellers/")
	sellerID, suffix, _ := strings.Cut(rest, "/")
	if sellerID == "" || suffix != "revenue" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	from, err := parseBound(r.URL.Query().Get("from"), false)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseBound(r.URL.Query().Get("to"), true)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	summary, err := h.queryHandler.RevenueSummary(r.Context(), sellerID, from, to)
	if errors.Is(err, query.ErrInvalidRange) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func parseBound(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
