package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/auth"
	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/checkout"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/payment"
	"github.com/xenking/kart-shop/internal/domain/product"
)

var (
	errMalformedRequest = errors.New("malformed request body")
	errInvalidRequest   = errors.New("invalid request")
)

// fieldError reports a missing or invalid request field.
type fieldError struct {
	Field  string
	Reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *fieldError) Unwrap() error {
	return errInvalidRequest
}

// errorStatus maps a domain error to its HTTP status and client message.
func errorStatus(err error) (int, string) {
	var pnf *order.ProductNotFoundError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound, product.ErrNotFound.Error()
	case errors.Is(err, cart.ErrLineNotFound):
		return http.StatusNotFound, cart.ErrLineNotFound.Error()
	case errors.As(err, &pnf):
		return http.StatusNotFound, pnf.Error()
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity, checkout.ErrEmptyCart.Error()
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, checkout.ErrValidation),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, errInvalidRequest):
		return http.StatusUnprocessableEntity, innermost(err)
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, innermost(err)
	case errors.Is(err, payment.ErrMalformedPayload), errors.Is(err, errMalformedRequest):
		return http.StatusBadRequest, errMalformedRequest.Error()
	case errors.Is(err, payment.ErrExternalService):
		return http.StatusBadGateway, "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// innermost returns the message of the typed domain error inside err,
// dropping the wrapping context added on the way up.
func innermost(err error) string {
	var (
		ic  *coupon.InvalidCouponError
		ve  *checkout.ValidationError
		fe  *fieldError
		ite *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &ic):
		return ic.Error()
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &fe):
		return fe.Error()
	case errors.As(err, &ite):
		return ite.Error()
	case errors.Is(err, cart.ErrInvalidQuantity):
		return cart.ErrInvalidQuantity.Error()
	}
	return err.Error()
}

// fail writes the error response for err. Server-side failures are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	lg := zctx.From(r.Context())
	if status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}
