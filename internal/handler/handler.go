// Package handler exposes the storefront's HTTP API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nileshop/storefront-api/internal/domain/auth"
	"github.com/nileshop/storefront-api/internal/domain/catalog"
	"github.com/nileshop/storefront-api/internal/domain/coupon"
	"github.com/nileshop/storefront-api/internal/domain/order"
	"github.com/nileshop/storefront-api/internal/domain/payment"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
}

// Handler serves the storefront API, delegating business logic to the domain
// services and repositories.
type Handler struct {
	products     catalog.Repository
	coupons      coupon.Repository
	orderService *order.Service
	verifier     *payment.Verifier
	issuer       *auth.TokenIssuer
	security     *Security
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg Config,
	products catalog.Repository,
	coupons coupon.Repository,
	orderService *order.Service,
	verifier *payment.Verifier,
	issuer *auth.TokenIssuer,
	security *Security,
) *Handler {
	return &Handler{
		products:     products,
		coupons:      coupons,
		orderService: orderService,
		verifier:     verifier,
		issuer:       issuer,
		security:     security,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes builds the API router. The payment callback and token endpoints are
// outside the authenticated group: the callback is authenticated by its HMAC
// signature, the token endpoint by the API key it exchanges.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/token", h.IssueToken)
		r.Post("/payment/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(h.security.Authenticate())

			r.Group(func(r chi.Router) {
				r.Use(RequireScope(auth.ScopeStorefront))

				r.Get("/products", h.ListProducts)
				r.Get("/products/{productID}", h.GetProduct)
				r.Get("/categories", h.ListCategories)
				r.Post("/coupons/validate", h.ValidateCoupon)
				r.Post("/orders", h.PlaceOrder)
				r.Get("/orders/{orderID}", h.GetOrder)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireScope(auth.ScopeAdmin))

				r.Post("/products", h.UpsertProduct)
				r.Put("/products/{productID}", h.UpsertProduct)
				r.Delete("/products/{productID}", h.DeleteProduct)

				r.Post("/categories", h.UpsertCategory)
				r.Delete("/categories/{categoryID}", h.DeleteCategory)

				r.Get("/coupons", h.ListCoupons)
				r.Post("/coupons", h.CreateCoupon)
				r.Put("/coupons/{couponID}", h.UpdateCoupon)
				r.Delete("/coupons/{couponID}", h.DeleteCoupon)

				r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
				r.Get("/orders/export", h.ExportOrders)
			})
		})
	})

	return r
}
