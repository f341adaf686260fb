package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the cart total, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off the cart total.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Reasons attached to InvalidCouponError.
const (
	ReasonUnknown       = "unknown code"
	ReasonInactive      = "inactive"
	ReasonNotYetValid   = "not yet valid"
	ReasonExpired       = "expired"
	ReasonUsageLimit    = "usage limit reached"
	ReasonMinPurchase   = "minimum purchase not met"
	ReasonNotApplicable = "not applicable to cart"
)

var (
	// ErrInvalidCoupon is matched by every coupon rejection.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrUsageLimitReached is returned by Repository.IncrementUses when the
	// conditional increment found no free slot.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// InvalidCouponError explains why a code was rejected.
type InvalidCouponError struct {
	Code   string
	Reason string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("invalid coupon %q: %s", e.Code, e.Reason)
}

func (e *InvalidCouponError) Unwrap() error {
	return ErrInvalidCoupon
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Nil pointers and empty sets mean "no constraint".
type Rule struct {
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.NullDecimal
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      *int
	Uses         int
	Active       bool
	Categories   []string
	ProductIDs   []string
	CreatedAt    time.Time
}

// Restricted reports whether the rule only applies to some products.
func (r *Rule) Restricted() bool {
	return len(r.Categories) > 0 || len(r.ProductIDs) > 0
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Item represents a line item in the cart for eligibility checks.
type Item struct {
	ProductID string
	Category  string
	Price     decimal.Decimal
	Quantity  int
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	// FindByCode matches code case-insensitively. It returns ErrInvalidCoupon
	// when no coupon has that code.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// IncrementUses adds one use unless the usage cap is already reached, in
	// which case it returns ErrUsageLimitReached. The check and the increment
	// are a single statement.
	IncrementUses(ctx context.Context, code string) error
	Upsert(ctx context.Context, rule *Rule) error
}
