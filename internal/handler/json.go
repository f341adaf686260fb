package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(errMalformedRequest, err.Error())
	}
	return body, nil
}

// decodeObject reads the request body as a JSON object, calling fn for each
// key. An empty body is accepted when optional is set.
func decodeObject(r *http.Request, optional bool, fn func(d *jx.Decoder, key string) error) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(body)) == "" {
		if optional {
			return nil
		}
		return errMalformedRequest
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		var fe *fieldError
		if errors.As(err, &fe) {
			return err
		}
		return errors.Wrap(errMalformedRequest, err.Error())
	}
	return nil
}

// str reads a string, treating null as "".
func str(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.Field(field, func(e *jx.Encoder) { e.Num(jx.Num(v.StringFixed(2))) })
}

func optStr(e *jx.Encoder, field, v string) {
	if v == "" {
		return
	}
	e.Field(field, func(e *jx.Encoder) { e.Str(v) })
}

func optTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.Field(field, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339)) })
}
