package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine validates coupon codes and records their use.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// WithRepository returns a copy of e bound to repo, typically a
// transaction-scoped repository.
func (e *Engine) WithRepository(repo Repository) *Engine {
	return &Engine{repo: repo, now: e.now}
}

// Validate looks up code and checks it against the cart total.
func (e *Engine) Validate(ctx context.Context, code string, total decimal.Decimal) (*Rule, error) {
	return e.validate(ctx, code, total, nil)
}

// ValidateItems is Validate plus the category/product restriction check.
func (e *Engine) ValidateItems(ctx context.Context, code string, items []Item) (*Rule, Discount, error) {
	total := Subtotal(items)
	rule, err := e.validate(ctx, code, total, items)
	if err != nil {
		return nil, Discount{}, err
	}
	return rule, CalculateDiscount(rule, total), nil
}

// Apply records one use of rule. It must only be called for an order that
// is being committed with this coupon.
func (e *Engine) Apply(ctx context.Context, rule *Rule) error {
	if err := e.repo.IncrementUses(ctx, rule.Code); err != nil {
		if errors.Is(err, ErrUsageLimitReached) {
			return &InvalidCouponError{Code: rule.Code, Reason: ReasonUsageLimit}
		}
		return errors.Wrap(err, "increment coupon uses")
	}
	rule.Uses++
	return nil
}

func (e *Engine) validate(ctx context.Context, code string, total decimal.Decimal, items []Item) (*Rule, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &InvalidCouponError{Code: code, Reason: ReasonUnknown}
	}

	rule, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, &InvalidCouponError{Code: code, Reason: ReasonUnknown}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if err := Check(rule, e.now(), total, items); err != nil {
		return nil, err
	}
	return rule, nil
}

// Subtotal returns the sum of price * quantity across items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}
