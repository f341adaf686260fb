package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shop/internal/domain/order"
)

var (
	// ErrMalformedPayload is returned when a notification or provider payment
	// lacks a field reconciliation depends on.
	ErrMalformedPayload = errors.New("malformed payment payload")
	// ErrExternalService is matched by every ExternalServiceError.
	ErrExternalService = errors.New("payment provider error")
)

// ExternalServiceError wraps a failed or timed out provider call.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// Payment is a ledger row, unique per provider payment id.
type Payment struct {
	ID           string
	OrderID      string
	ProviderID   string
	Status       string
	StatusDetail string
	Amount       decimal.Decimal
	MethodID     string
	TypeID       string
	// Details is the raw provider payment document.
	Details   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProviderPayment is the subset of the provider's payment document that
// reconciliation reads.
type ProviderPayment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            decimal.Decimal
	PaymentMethodID   string
	PaymentTypeID     string
	Raw               []byte
}

// PreferenceItem is one purchasable line of a payment preference.
type PreferenceItem struct {
	ID         string
	Title      string
	Quantity   int
	UnitPrice  decimal.Decimal
	CurrencyID string
}

// Payer identifies the buyer to the provider.
type Payer struct {
	Name       string
	Surname    string
	Email      string
	StreetName string
	ZipCode    string
}

// BackURLs are where the provider sends the buyer after checkout.
type BackURLs struct {
	Success string
	Failure string
	Pending string
}

// PreferenceRequest is a provider-side payment intent.
type PreferenceRequest struct {
	Items               []PreferenceItem
	Payer               Payer
	ExternalReference   string
	BackURLs            BackURLs
	AutoReturn          string
	NotificationURL     string
	StatementDescriptor string
	BinaryMode          bool
}

// Preference is the provider's answer to a PreferenceRequest.
type Preference struct {
	ID                 string
	CheckoutURL        string
	SandboxCheckoutURL string
}

// Provider is the external payment provider.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, id string) (*ProviderPayment, error)
}

// Repository persists ledger rows.
type Repository interface {
	// Upsert inserts p or, when a row with the same ProviderID exists,
	// overwrites its status, amount, method and details.
	Upsert(ctx context.Context, p *Payment) error
}

// Tx is the set of repositories available inside a reconciliation transaction.
type Tx interface {
	Orders() order.Repository
	Payments() Repository
}

// Store runs fn in a single database transaction.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
