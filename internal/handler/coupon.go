package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
)

// ValidateCoupon previews a coupon against the caller's current cart without
// recording a use.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var code string
	err := decodeObject(r, false, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = str(d)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if strings.TrimSpace(code) == "" {
		fail(w, r, &fieldError{Field: "code", Reason: "required"})
		return
	}

	ctx := r.Context()
	v, err := h.carts.Get(ctx, p.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	items := make([]coupon.Item, len(v.Lines))
	for i, l := range v.Lines {
		items[i] = coupon.Item{
			ProductID: l.ProductID,
			Category:  l.Category,
			Price:     l.UnitPrice,
			Quantity:  l.Quantity,
		}
	}

	rule, discount, err := h.coupons.ValidateItems(ctx, code, items)
	if err != nil {
		fail(w, r, err)
		return
	}

	total := order.Total(v.Subtotal, discount.Amount)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("coupon", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(rule.Code) })
					optStr(e, "description", rule.Description)
					e.Field("discount_type", func(e *jx.Encoder) { e.Str(string(rule.DiscountType)) })
					e.Field("value", func(e *jx.Encoder) { e.Num(jx.Num(rule.Value.String())) })
					money(e, "min_purchase", rule.MinPurchase)
					if rule.MaxDiscount.Valid {
						money(e, "max_discount", rule.MaxDiscount.Decimal)
					}
					optTime(e, "valid_until", rule.ValidUntil)
				})
			})
			money(e, "subtotal", v.Subtotal)
			money(e, "discount", discount.Amount)
			money(e, "total", total)
			money(e, "min_purchase", rule.MinPurchase)
		})
	})
}
