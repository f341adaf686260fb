package mercadopago

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shop/internal/domain/payment"
)

func encodePreferenceRequest(req payment.PreferenceRequest) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range req.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(it.Title) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unit_price", func(e *jx.Encoder) { e.Num(jx.Num(it.UnitPrice.StringFixed(2))) })
						e.Field("currency_id", func(e *jx.Encoder) { e.Str(it.CurrencyID) })
					})
				}
			})
		})
		e.Field("payer", func(e *jx.Encoder) {
			p := req.Payer
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
				e.Field("surname", func(e *jx.Encoder) { e.Str(p.Surname) })
				e.Field("email", func(e *jx.Encoder) { e.Str(p.Email) })
				e.Field("address", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						e.Field("street_name", func(e *jx.Encoder) { e.Str(p.StreetName) })
						e.Field("zip_code", func(e *jx.Encoder) { e.Str(p.ZipCode) })
					})
				})
			})
		})
		e.Field("back_urls", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("success", func(e *jx.Encoder) { e.Str(req.BackURLs.Success) })
				e.Field("failure", func(e *jx.Encoder) { e.Str(req.BackURLs.Failure) })
				e.Field("pending", func(e *jx.Encoder) { e.Str(req.BackURLs.Pending) })
			})
		})
		if req.AutoReturn != "" {
			e.Field("auto_return", func(e *jx.Encoder) { e.Str(req.AutoReturn) })
		}
		e.Field("external_reference", func(e *jx.Encoder) { e.Str(req.ExternalReference) })
		e.Field("notification_url", func(e *jx.Encoder) { e.Str(req.NotificationURL) })
		if req.StatementDescriptor != "" {
			e.Field("statement_descriptor", func(e *jx.Encoder) { e.Str(req.StatementDescriptor) })
		}
		e.Field("binary_mode", func(e *jx.Encoder) { e.Bool(req.BinaryMode) })
	})
	return e.Bytes()
}

func decodePreference(data []byte) (*payment.Preference, error) {
	var p payment.Preference
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = scalar(d)
		case "init_point":
			p.CheckoutURL, err = scalar(d)
		case "sandbox_init_point":
			p.SandboxCheckoutURL, err = scalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("preference without id")
	}
	return &p, nil
}

func decodePayment(data []byte) (*payment.ProviderPayment, error) {
	p := payment.ProviderPayment{Raw: data}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = scalar(d)
		case "status":
			p.Status, err = scalar(d)
		case "status_detail":
			p.StatusDetail, err = scalar(d)
		case "external_reference":
			p.ExternalReference, err = scalar(d)
		case "payment_method_id":
			p.PaymentMethodID, err = scalar(d)
		case "payment_type_id":
			p.PaymentTypeID, err = scalar(d)
		case "transaction_amount":
			var s string
			if s, err = scalar(d); err == nil && s != "" {
				p.Amount, err = decimal.NewFromString(s)
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// errorMessage extracts "message" from an API error body, falling back to
// the raw body.
func errorMessage(data []byte) string {
	var msg string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "message" {
			return d.Skip()
		}
		var err error
		msg, err = scalar(d)
		return err
	})
	if err != nil || msg == "" {
		return string(data)
	}
	return msg
}

// scalar reads a string, number or null as text.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}
