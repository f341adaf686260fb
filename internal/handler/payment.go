package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/payment"
)

// CreatePaymentIntent registers a Mercado Pago preference for an order.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	pref, err := h.payments.CreateIntent(r.Context(), p, chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("preference_id", func(e *jx.Encoder) { e.Str(pref.ID) })
			e.Field("checkout_url", func(e *jx.Encoder) { e.Str(pref.CheckoutURL) })
			e.Field("sandbox_checkout_url", func(e *jx.Encoder) { e.Str(pref.SandboxCheckoutURL) })
		})
	})
}

// PaymentWebhook reconciles a provider notification. Any failure answers 500
// so the provider redelivers.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := readBody(r)
	if err != nil {
		lg.Warn("Webhook body read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	n, err := payment.DecodeNotification(body, r.URL.Query())
	if err != nil {
		lg.Warn("Webhook payload rejected", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	res, err := h.payments.ProcessNotification(ctx, n)
	if err != nil {
		lg.Error("Webhook processing failed",
			zap.String("type", n.Type),
			zap.String("data_id", n.DataID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(string(res)) })
		})
	})
}
