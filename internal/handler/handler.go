// Package handler exposes the shop operations over a chi REST API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-shop/internal/domain/auth"
	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/checkout"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/payment"
)

// CartService is the cart store as seen by the API.
type CartService interface {
	Get(ctx context.Context, userID string) (*cart.View, error)
	AddLine(ctx context.Context, userID, productID string, quantity int) (*cart.View, error)
	SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) (*cart.View, error)
	RemoveLine(ctx context.Context, userID, lineID string) (*cart.View, error)
	Clear(ctx context.Context, userID string) (*cart.View, error)
}

// CouponService previews a coupon against cart items.
type CouponService interface {
	ValidateItems(ctx context.Context, code string, items []coupon.Item) (*coupon.Rule, coupon.Discount, error)
}

// CheckoutService converts carts into orders.
type CheckoutService interface {
	CreateOrder(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// OrderService queries orders and drives user/staff status changes.
type OrderService interface {
	List(ctx context.Context, p auth.Principal, forUserID string) ([]order.Order, error)
	Get(ctx context.Context, p auth.Principal, id string) (*order.Order, error)
	GetByPreferenceID(ctx context.Context, preferenceID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, p auth.Principal, id string, change order.StatusChange) (*order.Order, error)
	Cancel(ctx context.Context, p auth.Principal, id, reason string) (*order.Order, error)
}

// PaymentService creates payment intents and reconciles notifications.
type PaymentService interface {
	CreateIntent(ctx context.Context, p auth.Principal, orderID string) (*payment.Preference, error)
	ProcessNotification(ctx context.Context, n payment.Notification) (payment.Result, error)
}

// Services groups the domain dependencies of Handler.
type Services struct {
	Carts    CartService
	Coupons  CouponService
	Checkout CheckoutService
	Orders   OrderService
	Payments PaymentService
}

// Handler serves the /api routes.
type Handler struct {
	carts    CartService
	coupons  CouponService
	checkout CheckoutService
	orders   OrderService
	payments PaymentService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(s Services) *Handler {
	return &Handler{
		carts:    s.Carts,
		coupons:  s.Coupons,
		checkout: s.Checkout,
		orders:   s.Orders,
		payments: s.Payments,
	}
}

// Register mounts the API on r. Every route except the payment webhook and
// the preference lookup goes through authn.
func (h *Handler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/payments/webhook", h.PaymentWebhook)
		r.Get("/orders/by-preference/{preferenceID}", h.GetOrderByPreference)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Get("/cart", h.GetCart)
			r.Delete("/cart", h.ClearCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Put("/cart/items/{lineID}", h.SetCartItem)
			r.Delete("/cart/items/{lineID}", h.RemoveCartItem)

			r.Post("/coupons/validate", h.ValidateCoupon)
			r.Post("/checkout", h.Checkout)

			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)
			r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)

			r.Post("/payments/orders/{orderID}/intent", h.CreatePaymentIntent)
		})
	})
}

// principal returns the caller set by SecurityHandler.
func principal(r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok || p.UserID == "" {
		return auth.Principal{}, false
	}
	return p, true
}
