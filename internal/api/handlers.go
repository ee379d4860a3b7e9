package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/example/marketplace/internal/command"
	"github.com/example/marketplace/internal/domain/payment"
	"github.com/example/marketplace/internal/metrics"
	"github.com/example/marketplace/internal/query"
)

const maxBodyBytes = 1 << 20

// PaymentCommands is the write half of the payment service used by the API.
type PaymentCommands interface {
	UpdatePaymentStatus(ctx context.Context, paymentID string, status payment.Status, reason, actor string, metadata map[string]any) (*payment.Payment, error)
	ProcessWebhook(ctx context.Context, provider payment.Provider, payload payment.WebhookPayload) payment.WebhookResult
}

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	payments     PaymentCommands
	metrics      *metrics.ServerMetrics
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, payments PaymentCommands, m *metrics.ServerMetrics) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		payments:     payments,
		metrics:      m,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func extractPathParam(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}
