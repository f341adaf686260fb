package coupon

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Check returns an *InvalidCouponError when rule cannot be used at now for a
// cart with the given total. items are only consulted for restricted rules.
func Check(rule *Rule, now time.Time, total decimal.Decimal, items []Item) error {
	reject := func(reason string) error {
		return &InvalidCouponError{Code: rule.Code, Reason: reason}
	}

	switch {
	case !rule.Active:
		return reject(ReasonInactive)
	case rule.ValidFrom != nil && now.Before(*rule.ValidFrom):
		return reject(ReasonNotYetValid)
	case rule.ValidUntil != nil && now.After(*rule.ValidUntil):
		return reject(ReasonExpired)
	case rule.MaxUses != nil && rule.Uses >= *rule.MaxUses:
		return reject(ReasonUsageLimit)
	case total.LessThan(rule.MinPurchase):
		return reject(ReasonMinPurchase)
	case rule.Restricted() && items != nil && !anyEligible(rule, items):
		return reject(ReasonNotApplicable)
	}
	return nil
}

// CalculateDiscount returns the discount rule grants on total. The result is
// never negative, never above total, and for percentage rules never above
// MaxDiscount when it is set.
func CalculateDiscount(rule *Rule, total decimal.Decimal) Discount {
	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = total.Mul(rule.Value).Div(hundred)
		if rule.MaxDiscount.Valid {
			amount = decimal.Min(amount, rule.MaxDiscount.Decimal)
		}
	case DiscountFixed:
		amount = rule.Value
	}

	amount = decimal.Min(amount, total)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Discount{
		Amount:      amount.Round(2),
		Description: rule.Description,
	}
}

func anyEligible(rule *Rule, items []Item) bool {
	for _, it := range items {
		if slices.Contains(rule.ProductIDs, it.ProductID) || slices.Contains(rule.Categories, it.Category) {
			return true
		}
	}
	return false
}
