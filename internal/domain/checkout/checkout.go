package checkout

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/product"
)

// ErrEmptyCart is returned when checkout finds no lines in the cart.
var ErrEmptyCart = errors.New("cart is empty")

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError reports a malformed checkout field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Request holds the input for converting a cart into an order.
type Request struct {
	UserID     string
	Customer   order.Customer
	Delivery   order.Delivery
	CouponCode string
}

// Tx is the set of repositories available inside a checkout transaction.
type Tx interface {
	// LockCart returns the user's cart and lines, holding a row lock on the
	// cart until the transaction ends.
	LockCart(ctx context.Context, userID string) (*cart.Cart, error)
	ClearCart(ctx context.Context, cartID string) error
	Products() product.Repository
	Coupons() coupon.Repository
	Orders() order.Repository
}

// Store runs fn in a single database transaction, committing only when fn
// returns nil.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// CartCache is told about carts emptied by a committed checkout.
type CartCache interface {
	Invalidate(ctx context.Context, userID string)
}

// Service converts carts into orders.
type Service struct {
	store   Store
	coupons *coupon.Engine
	carts   CartCache
	now     func() time.Time
	newID   func() string
}

// NewService creates a checkout Service. carts may be nil.
func NewService(store Store, coupons *coupon.Engine, carts CartCache) *Service {
	return &Service{
		store:   store,
		coupons: coupons,
		carts:   carts,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// CreateOrder snapshots the user's cart into a new order, applies the coupon
// and clears the cart. All writes share one transaction; a concurrent
// checkout of the same cart waits on the cart lock and then sees it empty.
func (s *Service) CreateOrder(ctx context.Context, req Request) (*order.Order, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}

	var placed *order.Order
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		c, err := tx.LockCart(ctx, req.UserID)
		if err != nil {
			return errors.Wrap(err, "lock cart")
		}
		if len(c.Lines) == 0 {
			return ErrEmptyCart
		}

		lines, items, subtotal, err := snapshot(ctx, tx.Products(), c.Lines)
		if err != nil {
			return err
		}

		discount := decimal.Zero
		couponCode := ""
		if req.CouponCode != "" {
			engine := s.coupons.WithRepository(tx.Coupons())
			rule, d, err := engine.ValidateItems(ctx, req.CouponCode, items)
			if err != nil {
				return err
			}
			if err := engine.Apply(ctx, rule); err != nil {
				return err
			}
			discount = decimal.Min(d.Amount, subtotal).Round(2)
			couponCode = rule.Code
		}

		now := s.now()
		o := &order.Order{
			ID:                s.newID(),
			UserID:            req.UserID,
			Status:            order.StatusCreated,
			PaymentStatus:     order.PaymentNotStarted,
			Lines:             lines,
			TotalAmount:       order.Total(subtotal, discount),
			DiscountAmount:    discount,
			CouponCode:        couponCode,
			Customer:          req.Customer,
			Delivery:          req.Delivery,
			EstimatedDelivery: req.Delivery.Date,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.Orders().Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := tx.ClearCart(ctx, c.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.carts != nil {
		s.carts.Invalidate(ctx, req.UserID)
	}
	return placed, nil
}

// snapshot prices cart lines against the catalog inside the transaction.
func snapshot(ctx context.Context, products product.Repository, cartLines []cart.Line) ([]order.Line, []coupon.Item, decimal.Decimal, error) {
	ids := make([]string, len(cartLines))
	for i, l := range cartLines {
		ids[i] = l.ProductID
	}
	fetched, err := products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, decimal.Zero, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	lines := make([]order.Line, len(cartLines))
	items := make([]coupon.Item, len(cartLines))
	subtotal := decimal.Zero
	for i, l := range cartLines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, nil, decimal.Zero, &order.ProductNotFoundError{ProductID: l.ProductID}
		}
		lines[i] = order.Line{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  l.Quantity,
		}
		items[i] = coupon.Item{
			ProductID: p.ID,
			Category:  p.Category,
			Price:     p.Price,
			Quantity:  l.Quantity,
		}
		subtotal = subtotal.Add(lines[i].Subtotal())
	}
	return lines, items, subtotal, nil
}

func normalize(req *Request) error {
	c := &req.Customer
	c.FullName = strings.TrimSpace(c.FullName)
	c.Email = strings.TrimSpace(c.Email)

	if req.UserID == "" {
		return &ValidationError{Field: "user", Reason: "required"}
	}
	if c.FullName == "" {
		return &ValidationError{Field: "full_name", Reason: "required"}
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return &ValidationError{Field: "email", Reason: "invalid address"}
	}
	if strings.TrimSpace(c.Address) == "" {
		return &ValidationError{Field: "address", Reason: "required"}
	}
	if c.ShippingCountry == "" {
		c.ShippingCountry = order.DefaultCountry
	}
	if c.ShippingFullName == "" {
		c.ShippingFullName = c.FullName
	}

	if req.Delivery.Type == "" {
		req.Delivery.Type = order.DeliveryStandard
	}
	if !req.Delivery.Type.Valid() {
		return &ValidationError{Field: "delivery_type", Reason: "must be standard, express or emergency"}
	}

	req.CouponCode = strings.TrimSpace(req.CouponCode)
	return nil
}
