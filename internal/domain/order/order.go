package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCancellationReason is recorded when a customer cancels without a reason.
	DefaultCancellationReason = "Cancelado pelo cliente"
	// StaffCancellationReason is recorded when staff cancel another user's
	// order without a reason.
	StaffCancellationReason = "Cancelado pela loja"
)

// DefaultCountry is the shipping country used when none is given.
const DefaultCountry = "Brasil"

var (
	// ErrNotFound is returned when an order does not exist or is not visible
	// to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is matched by every rejected status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ProductNotFoundError indicates a product referenced at checkout does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// DeliveryType selects the shipping speed.
type DeliveryType string

const (
	DeliveryStandard  DeliveryType = "standard"
	DeliveryExpress   DeliveryType = "express"
	DeliveryEmergency DeliveryType = "emergency"
)

// Valid reports whether t is a known delivery type.
func (t DeliveryType) Valid() bool {
	switch t {
	case DeliveryStandard, DeliveryExpress, DeliveryEmergency:
		return true
	default:
		return false
	}
}

// Customer is the contact and shipping snapshot taken at checkout.
type Customer struct {
	FullName           string
	Email              string
	Phone              string
	Address            string
	Apartment          string
	Building           string
	ShippingCity       string
	ShippingState      string
	ShippingPostalCode string
	ShippingCountry    string
	ShippingFullName   string
}

// Delivery holds the requested delivery options.
type Delivery struct {
	Type     DeliveryType
	Date     *time.Time
	TimeSlot string
	Notes    string
}

// Order is the snapshot of a completed checkout. Lines never change after
// creation; status and payment fields evolve through the state machines.
type Order struct {
	ID            string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	Lines         []Line

	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	CouponCode     string

	Customer Customer
	Delivery Delivery

	PreferenceID       string
	PaymentID          string
	PaymentMethod      string
	TrackingNumber     string
	CancellationReason string

	EstimatedDelivery *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Line is an immutable order line. ProductID is empty once the product has
// been removed from the catalog; Name and Price keep the values at checkout.
type Line struct {
	ID        string
	ProductID string
	Name      string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns price * quantity for the line.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Subtotal returns the sum of all line subtotals.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// ContactEmail returns the address status notifications are sent to.
func (o *Order) ContactEmail() string {
	return o.Customer.Email
}

// Total computes max(0, subtotal - discount) rounded to cents.
func Total(subtotal, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}

// UpdateFunc mutates a locked order and reports whether anything changed.
type UpdateFunc func(o *Order) (changed bool, err error)

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts the order together with its lines.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByPreferenceID(ctx context.Context, preferenceID string) (*Order, error)
	// List returns orders newest first. An empty userID lists every order.
	List(ctx context.Context, userID string) ([]Order, error)
	// Update locks the order row, runs fn and, when fn reports a change,
	// persists every mutable field in a single statement.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Order, error)
}

// Notifier receives order lifecycle events. Implementations are best-effort.
type Notifier interface {
	StatusChanged(ctx context.Context, o *Order, from Status) error
	PaymentConfirmed(ctx context.Context, o *Order) error
}
