package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/sokocart/sokocart/internal/analytics"
	"github.com/sokocart/sokocart/internal/auth"
	"github.com/sokocart/sokocart/internal/order"
	"github.com/sokocart/sokocart/internal/payment"
	"github.com/sokocart/sokocart/internal/product"
	"github.com/sokocart/sokocart/internal/review"
	"github.com/sokocart/sokocart/internal/transport/middleware"
	"github.com/sokocart/sokocart/internal/transport/swagger"
)

type Handlers struct {
	Product   *product.Handler
	Order     *order.Handler
	Payment   *payment.Handler
	Webhook   *payment.WebhookHandler
	Review    *review.Handler
	Analytics *analytics.Handler
}

// RegisterAllRoutes wires the full route tree. Provider callbacks are mounted
// outside the authenticated group since gateways cannot carry user tokens.
func RegisterAllRoutes(router *chi.Mux, db *sql.DB, verifier *auth.Verifier, h Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.CORS)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Provider-facing callbacks. Authenticated by signature (card) or
		// source allow-listing (mpesa), not bearer tokens.
		if h.Webhook != nil {
			r.Post("/payments/webhook", h.Webhook.HandleCardWebhook)
			r.Post("/payments/mpesa/callback", h.Webhook.HandleMpesaCallback)
		}

		// Public catalog routes
		if h.Product != nil {
			r.Get("/products", h.Product.ListProducts)
			r.Get("/products/{productID}", h.Product.GetProduct)
		}
		if h.Review != nil {
			r.Get("/products/{productID}/reviews", h.Review.ListReviews)
		}

		// Routes that require authentication
		r.Group(func(pr chi.Router) {
			pr.Use(auth.RequireAuth(verifier, logger))
			pr.Use(middleware.UserContext)

			if h.Order != nil {
				pr.Route("/orders", func(or chi.Router) {
					or.Post("/", h.Order.Checkout)
					or.Get("/", h.Order.ListOrders)
					or.Get("/{orderID}", h.Order.GetOrder)
					or.Post("/{orderID}/cancel", h.Order.CancelOrder)

					or.Group(func(sr chi.Router) {
						sr.Use(auth.RequireStaff)
						sr.Patch("/{orderID}/status", h.Order.UpdateOrderStatus)
					})
				})
			}

			if h.Payment != nil {
				pr.Route("/payments", func(pm chi.Router) {
					pm.Post("/", h.Payment.InitiatePayment)
					pm.Post("/mpesa", h.Payment.InitiateMpesaPayment)
					pm.Get("/{paymentID}", h.Payment.GetPaymentStatus)
					pm.Post("/{paymentID}/confirm", h.Payment.ConfirmPayment)
					pm.Post("/{paymentID}/cancel", h.Payment.CancelPayment)
					pm.Post("/{paymentID}/mpesa/query", h.Payment.QueryMpesaStatus)

					pm.Group(func(sr chi.Router) {
						sr.Use(auth.RequireStaff)
						sr.Post("/{paymentID}/refunds", h.Payment.RequestRefund)
					})
				})
			}

			if h.Review != nil {
				pr.Post("/products/{productID}/reviews", h.Review.CreateReview)
				pr.Put("/products/{productID}/reviews", h.Review.UpdateReview)
			}

			if h.Analytics != nil {
				pr.Group(func(sr chi.Router) {
					sr.Use(auth.RequireStaff)
					sr.Get("/analytics/sales", h.Analytics.SalesSummary)
					sr.Get("/analytics/payments", h.Analytics.PaymentBreakdown)
				})
			}
		})
	})
}
