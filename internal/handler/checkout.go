package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-shop/internal/domain/checkout"
	"github.com/xenking/kart-shop/internal/domain/order"
)

// Checkout converts the caller's cart into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req := checkout.Request{UserID: p.UserID}
	err := decodeObject(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customer":
			err = decodeCustomer(d, &req.Customer)
		case "delivery":
			err = decodeDelivery(d, &req.Delivery)
		case "coupon_code":
			req.CouponCode, err = str(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.checkout.CreateOrder(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func decodeCustomer(d *jx.Decoder, c *order.Customer) error {
	fields := map[string]*string{
		"full_name":            &c.FullName,
		"email":                &c.Email,
		"phone":                &c.Phone,
		"address":              &c.Address,
		"apartment":            &c.Apartment,
		"building":             &c.Building,
		"shipping_city":        &c.ShippingCity,
		"shipping_state":       &c.ShippingState,
		"shipping_postal_code": &c.ShippingPostalCode,
		"shipping_country":     &c.ShippingCountry,
		"shipping_full_name":   &c.ShippingFullName,
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		dst, ok := fields[key]
		if !ok {
			return d.Skip()
		}
		v, err := str(d)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	})
}

func decodeDelivery(d *jx.Decoder, del *order.Delivery) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "type", "date", "time_slot", "notes":
			v, err = str(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return err
		}

		switch key {
		case "type":
			del.Type = order.DeliveryType(strings.ToLower(strings.TrimSpace(v)))
		case "date":
			if v == "" {
				return nil
			}
			t, err := parseDate(v)
			if err != nil {
				return &fieldError{Field: "delivery.date", Reason: "must be YYYY-MM-DD or RFC 3339"}
			}
			del.Date = &t
		case "time_slot":
			del.TimeSlot = v
		case "notes":
			del.Notes = v
		}
		return nil
	})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
