package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/example/marketplace/internal/api/middleware"
	"github.com/example/marketplace/internal/command"
)

// Checkout handles POST /api/checkout. The customer id comes from the
// access token when one is present.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var cmd command.Checkout
	if err := decodeJSON(w, r, &cmd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cmd.CustomerID = middleware.GetUserID(r.Context())

	result, err := h.cmdHandler.Checkout(r.Context(), cmd)
	if err != nil {
		var verr *command.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[API] Checkout failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
