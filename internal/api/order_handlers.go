package api

import (
	"errors"
	"net/http"

	"github.com/example/marketplace/internal/domain/order"
)

// TrackOrder handles GET /api/orders/track/{token}.
func (h *Handlers) TrackOrder(w http.ResponseWriter, r *http.Request) {
	token := extractPathParam(r.URL.Path, "/api/orders/track/")

	view, err := h.queryHandler.TrackOrder(r.Context(), token)
	if errors.Is(err, order.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "Order not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, view)
}
