package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/example/marketplace/internal/api/middleware"
	"github.com/example/marketplace/internal/auth"
	"github.com/example/marketplace/internal/metrics"
)

// NewRouter wires every endpoint. metricsHandler may be nil.
func NewRouter(handlers *Handlers, jwtService *auth.JWTService, m *metrics.ServerMetrics, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	optionalAuth := middleware.OptionalAuthMiddleware(jwtService)
	sellerOnly := func(next http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(jwtService)(
			middleware.RequireRole(auth.RoleSeller, auth.RoleAdmin)(next))
	}

	mux.HandleFunc("/health", handlers.Health)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	// Checkout
	mux.Handle("/api/checkout", middleware.Instrument(m, "checkout", optionalAuth(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				handlers.Checkout(w, r)
			default:
				respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		}))))

	// Payments
	mux.Handle("/api/payments/webhook/", middleware.Instrument(m, "payment_webhook",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost:
				handlers.PaymentWebhook(w, r)
			default:
				respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})))

	mux.Handle("/api/payments/", middleware.Instrument(m, "payments", sellerOnly(
		func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			switch {
			case strings.HasSuffix(path, "/status") && r.Method == http.MethodPost:
				handlers.UpdatePaymentStatus(w, r)
			case r.Method == http.MethodGet:
				handlers.GetPayment(w, r)
			default:
				respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})))

	// Sellers
	ownStore := middleware.RequireSellerAccess(sellerFromPath)
	mux.Handle("/api/sellers/", middleware.Instrument(m, "seller_revenue", sellerOnly(
		ownStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				handlers.RevenueSummary(w, r)
			default:
				respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})).ServeHTTP)))

	// Orders
	mux.Handle("/api/orders/track/", middleware.Instrument(m, "track_order",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				handlers.TrackOrder(w, r)
			default:
				respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		})))

	return withLogging(mux)
}

// sellerFromPath returns {id} of /api/sellers/{id}/...
func sellerFromPath(r *http.Request) string {
	id, _, _ := strings.Cut(extractPathParam(r.URL.Path, "/api/sellers/"), "/")
	return id
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
