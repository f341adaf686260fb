package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-shop/internal/domain/order"
)

// ListOrders returns the caller's orders, newest first. Staff may pass
// user_id to list another user's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	orders, err := h.orders.List(r.Context(), p, r.URL.Query().Get("user_id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// GetOrder returns one order owned by the caller.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	o, err := h.orders.Get(r.Context(), p, chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// GetOrderByPreference serves the payment return pages.
func (h *Handler) GetOrderByPreference(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByPreferenceID(r.Context(), chi.URLParam(r, "preferenceID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// CancelOrder cancels an order owned by the caller.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var reason string
	err := decodeObject(r, true, func(d *jx.Decoder, key string) error {
		if key != "reason" {
			return d.Skip()
		}
		var err error
		reason, err = str(d)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.orders.Cancel(r.Context(), p, chi.URLParam(r, "orderID"), reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

// UpdateOrderStatus moves an order along the status machine (staff only).
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var raw, tracking, reason string
	err := decodeObject(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			raw, err = str(d)
		case "tracking_number":
			tracking, err = str(d)
		case "reason":
			reason, err = str(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	to, ok := order.ParseStatus(raw)
	if !ok {
		fail(w, r, &fieldError{Field: "status", Reason: "unknown status " + raw})
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), p, chi.URLParam(r, "orderID"), order.StatusChange{
		To:             to,
		TrackingNumber: tracking,
		Reason:         reason,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("status_label", func(e *jx.Encoder) { e.Str(o.Status.Label()) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
						if l.ProductID != "" {
							e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						} else {
							e.Field("product_id", func(e *jx.Encoder) { e.Null() })
						}
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						money(e, "price", l.Price)
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						money(e, "subtotal", l.Subtotal())
					})
				}
			})
		})
		money(e, "subtotal", o.Subtotal())
		money(e, "discount_amount", o.DiscountAmount)
		money(e, "total_amount", o.TotalAmount)
		optStr(e, "coupon_code", o.CouponCode)

		c := o.Customer
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("full_name", func(e *jx.Encoder) { e.Str(c.FullName) })
				e.Field("email", func(e *jx.Encoder) { e.Str(c.Email) })
				optStr(e, "phone", c.Phone)
				e.Field("address", func(e *jx.Encoder) { e.Str(c.Address) })
				optStr(e, "apartment", c.Apartment)
				optStr(e, "building", c.Building)
				optStr(e, "shipping_city", c.ShippingCity)
				optStr(e, "shipping_state", c.ShippingState)
				optStr(e, "shipping_postal_code", c.ShippingPostalCode)
				optStr(e, "shipping_country", c.ShippingCountry)
				optStr(e, "shipping_full_name", c.ShippingFullName)
			})
		})
		d := o.Delivery
		e.Field("delivery", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("type", func(e *jx.Encoder) { e.Str(string(d.Type)) })
				if d.Date != nil {
					e.Field("date", func(e *jx.Encoder) { e.Str(d.Date.Format(time.DateOnly)) })
				}
				optStr(e, "time_slot", d.TimeSlot)
				optStr(e, "notes", d.Notes)
			})
		})

		optStr(e, "preference_id", o.PreferenceID)
		optStr(e, "payment_id", o.PaymentID)
		optStr(e, "payment_method", o.PaymentMethod)
		optStr(e, "tracking_number", o.TrackingNumber)
		optStr(e, "cancellation_reason", o.CancellationReason)
		optTime(e, "estimated_delivery", o.EstimatedDelivery)
		optTime(e, "shipped_at", o.ShippedAt)
		optTime(e, "delivered_at", o.DeliveredAt)
		optTime(e, "created_at", &o.CreatedAt)
		optTime(e, "updated_at", &o.UpdatedAt)
	})
}
