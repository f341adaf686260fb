package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-shop/internal/domain/cart"
)

type cartItemRequest struct {
	ProductID string
	Quantity  int
	hasQty    bool
}

func decodeCartItem(r *http.Request) (cartItemRequest, error) {
	var req cartItemRequest
	err := decodeObject(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			req.ProductID, err = str(d)
		case "quantity":
			req.Quantity, err = d.Int()
			req.hasQty = true
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

// GetCart returns the caller's cart, creating it on first access.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	v, err := h.carts.Get(r.Context(), p.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, v)
}

// AddCartItem adds a product to the cart, merging with an existing line.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	req, err := decodeCartItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.ProductID == "" {
		fail(w, r, &fieldError{Field: "product_id", Reason: "required"})
		return
	}
	if !req.hasQty {
		req.Quantity = 1
	}

	v, err := h.carts.AddLine(r.Context(), p.UserID, req.ProductID, req.Quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, v)
}

// SetCartItem overwrites a line's quantity; zero removes the line.
func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	req, err := decodeCartItem(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !req.hasQty {
		fail(w, r, &fieldError{Field: "quantity", Reason: "required"})
		return
	}

	v, err := h.carts.SetLineQuantity(r.Context(), p.UserID, chi.URLParam(r, "lineID"), req.Quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, v)
}

// RemoveCartItem deletes a line from the caller's cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	v, err := h.carts.RemoveLine(r.Context(), p.UserID, chi.URLParam(r, "lineID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, v)
}

// ClearCart removes every line from the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	v, err := h.carts.Clear(r.Context(), p.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeCart(w, http.StatusOK, v)
}

func writeCart(w http.ResponseWriter, status int, v *cart.View) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(v.CartID) })
			e.Field("user_id", func(e *jx.Encoder) { e.Str(v.UserID) })
			e.Field("lines", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, l := range v.Lines {
						e.Obj(func(e *jx.Encoder) {
							e.Field("id", func(e *jx.Encoder) { e.Str(l.ID) })
							e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
							e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
							optStr(e, "category", l.Category)
							e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
							money(e, "unit_price", l.UnitPrice)
							money(e, "subtotal", l.Subtotal)
						})
					}
				})
			})
			e.Field("item_count", func(e *jx.Encoder) { e.Int(len(v.Lines)) })
			money(e, "subtotal", v.Subtotal)
		})
	})
}
