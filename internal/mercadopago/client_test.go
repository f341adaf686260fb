package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-shop/internal/domain/payment"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:          srv.URL,
		AccessToken:      "TEST-token",
		Timeout:          time.Second,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	}, WithHTTPClient(srv.Client()))
}

func TestClient_CreatePreference(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"123-abc","init_point":"https://mp/checkout","sandbox_init_point":"https://sandbox.mp/checkout","collector_id":99}`)
	})

	pref, err := c.CreatePreference(context.Background(), payment.PreferenceRequest{
		Items: []payment.PreferenceItem{
			{ID: "p1", Title: "Rosa", Quantity: 2, UnitPrice: decimal.RequireFromString("12.5"), CurrencyID: "BRL"},
		},
		Payer:               payment.Payer{Name: "Ana", Surname: "Souza", Email: "ana@example.com", StreetName: "Rua A", ZipCode: "01000"},
		ExternalReference:   "order-1",
		BackURLs:            payment.BackURLs{Success: "s", Failure: "f", Pending: "p"},
		AutoReturn:          "approved",
		NotificationURL:     "https://api/webhook",
		StatementDescriptor: "KART",
	})
	require.NoError(t, err)
	assert.Equal(t, &payment.Preference{
		ID:                 "123-abc",
		CheckoutURL:        "https://mp/checkout",
		SandboxCheckoutURL: "https://sandbox.mp/checkout",
	}, pref)

	items := got["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Rosa", item["title"])
	assert.Equal(t, 12.5, item["unit_price"])
	assert.Equal(t, float64(2), item["quantity"])
	assert.Equal(t, "order-1", got["external_reference"])
	assert.Equal(t, "approved", got["auto_return"])
	assert.Equal(t, false, got["binary_mode"])
	payer := got["payer"].(map[string]any)
	assert.Equal(t, "Souza", payer["surname"])
	assert.Equal(t, "01000", payer["address"].(map[string]any)["zip_code"])
	assert.Equal(t, "p", got["back_urls"].(map[string]any)["pending"])
}

func TestClient_GetPayment(t *testing.T) {
	const doc = `{"id":987654321,"status":"approved","status_detail":"accredited",` +
		`"external_reference":"order-1","transaction_amount":25.5,` +
		`"payment_method_id":"pix","payment_type_id":"bank_transfer","payer":{"id":"1"}}`

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/987654321", r.URL.Path)
		_, _ = io.WriteString(w, doc)
	})

	p, err := c.GetPayment(context.Background(), "987654321")
	require.NoError(t, err)
	assert.Equal(t, "987654321", p.ID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "accredited", p.StatusDetail)
	assert.Equal(t, "order-1", p.ExternalReference)
	assert.True(t, decimal.RequireFromString("25.5").Equal(p.Amount))
	assert.Equal(t, "pix", p.PaymentMethodID)
	assert.Equal(t, "bank_transfer", p.PaymentTypeID)
	assert.JSONEq(t, doc, string(p.Raw))
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Payment not found","error":"not_found","status":404}`)
	})

	_, err := c.GetPayment(context.Background(), "1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Payment not found", apiErr.Message)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	for range 2 {
		_, err := c.GetPayment(ctx, "1")
		require.Error(t, err)
	}
	_, err := c.GetPayment(ctx, "1")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ClientErrorsKeepBreakerClosed(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})
	ctx := context.Background()

	for range 4 {
		_, err := c.GetPayment(ctx, "1")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
	}
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_RespectsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetPayment(ctx, "1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
