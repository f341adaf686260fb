// Package mercadopago is a minimal Mercado Pago REST client covering checkout
// preferences and payment lookups.
package mercadopago

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-shop/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.mercadopago.com"

var _ payment.Provider = (*Client)(nil)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: status %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	AccessToken string
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Client talks to the Mercado Pago API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// NewClient creates a Client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "mercadopago",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors mean the request was wrong, not that the API is down.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePreference registers a checkout preference.
func (c *Client) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.Preference, error) {
	body, err := c.do(ctx, http.MethodPost, "/checkout/preferences", encodePreferenceRequest(req))
	if err != nil {
		return nil, errors.Wrap(err, "create preference")
	}
	pref, err := decodePreference(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode preference")
	}
	return pref, nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*payment.ProviderPayment, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get payment %s", id)
	}
	p, err := decodePayment(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
		}
		return data, nil
	})
}
