package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-shop/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, description, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, max_uses, uses, active, categories, product_ids, created_at
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses IS NULL OR uses < max_uses)`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, max_uses, active, categories, product_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses,
			active = EXCLUDED.active,
			categories = EXCLUDED.categories,
			product_ids = EXCLUDED.product_ids`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository returns a CouponRepository that uses the given db.
func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode looks up a coupon by its code (case-insensitive). Inactive and
// expired coupons are returned too so the caller can say why they are
// rejected.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.db.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// IncrementUses atomically increments the usage counter unless max_uses is
// already reached.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.db.Exec(ctx, incrementCouponUsesSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUsageLimitReached
	}
	return nil
}

// Upsert inserts or replaces a coupon definition. Codes match
// case-insensitively; an existing coupon keeps its stored spelling and its
// usage counter.
func (r *CouponRepository) Upsert(ctx context.Context, rule *coupon.Rule) error {
	categories, productIDs := rule.Categories, rule.ProductIDs
	if categories == nil {
		categories = []string{}
	}
	if productIDs == nil {
		productIDs = []string{}
	}

	_, err := r.db.Exec(ctx, upsertCouponSQL,
		rule.Code, rule.Description, string(rule.DiscountType), rule.Value, rule.MinPurchase, rule.MaxDiscount,
		rule.ValidFrom, rule.ValidUntil, rule.MaxUses, rule.Active, categories, productIDs,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", rule.Code, err)
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		discountType string
	)
	err := row.Scan(
		&rule.Code, &rule.Description, &discountType, &rule.Value, &rule.MinPurchase, &rule.MaxDiscount,
		&rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.Uses, &rule.Active,
		&rule.Categories, &rule.ProductIDs, &rule.CreatedAt,
	)
	rule.DiscountType = coupon.DiscountType(discountType)
	return rule, err
}
