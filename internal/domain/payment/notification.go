package payment

import (
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// TypePayment is the only notification type reconciliation acts on.
const TypePayment = "payment"

// Notification is the pointer the provider posts to the webhook.
type Notification struct {
	Type   string
	Action string
	DataID string
}

// DecodeNotification reads a webhook notification from the JSON body,
// falling back to query parameters (type/data.id or topic/id) for fields the
// body does not carry.
func DecodeNotification(body []byte, query url.Values) (Notification, error) {
	var n Notification
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := decodeNotificationBody(jx.DecodeBytes(body), &n); err != nil {
			return Notification{}, errors.Wrapf(ErrMalformedPayload, "decode body: %v", err)
		}
	}

	if n.Type == "" {
		n.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	if n.DataID == "" {
		n.DataID = firstNonEmpty(query.Get("data.id"), query.Get("id"))
	}
	return n, nil
}

func decodeNotificationBody(d *jx.Decoder, n *Notification) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "type", "topic":
			s, err := decodeScalar(d)
			if err != nil {
				return err
			}
			if n.Type == "" {
				n.Type = s
			}
		case "action":
			s, err := decodeScalar(d)
			if err != nil {
				return err
			}
			n.Action = s
		case "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "id" {
					return d.Skip()
				}
				s, err := decodeScalar(d)
				if err != nil {
					return err
				}
				n.DataID = s
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
}

// decodeScalar reads a string or number as text; providers send ids both ways.
func decodeScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", err
		}
		return num.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
