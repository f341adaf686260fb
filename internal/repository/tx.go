package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/checkout"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/payment"
	"github.com/xenking/kart-shop/internal/domain/product"
)

var (
	_ checkout.Tx    = (*Tx)(nil)
	_ payment.Tx     = (*Tx)(nil)
	_ checkout.Store = CheckoutStore{}
	_ payment.Store  = PaymentStore{}
)

// TxManager runs functions inside a single PostgreSQL transaction.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager returns a TxManager that begins transactions on pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithinTx commits when fn returns nil and rolls back otherwise.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	return pgx.BeginFunc(ctx, m.pool, func(ptx pgx.Tx) error {
		return fn(NewTx(ptx))
	})
}

// Tx exposes the repositories bound to one transaction.
type Tx struct {
	carts    *CartRepository
	products *ProductRepository
	coupons  *CouponRepository
	orders   *OrderRepository
	payments *PaymentRepository
}

// NewTx binds every repository to db.
func NewTx(db DBTX) *Tx {
	return &Tx{
		carts:    NewCartRepository(db),
		products: NewProductRepository(db),
		coupons:  NewCouponRepository(db),
		orders:   NewOrderRepository(db),
		payments: NewPaymentRepository(db),
	}
}

func (t *Tx) LockCart(ctx context.Context, userID string) (*cart.Cart, error) {
	return t.carts.Lock(ctx, userID)
}

func (t *Tx) ClearCart(ctx context.Context, cartID string) error {
	return t.carts.Clear(ctx, cartID)
}

func (t *Tx) Products() product.Repository { return t.products }

func (t *Tx) Coupons() coupon.Repository { return t.coupons }

func (t *Tx) Orders() order.Repository { return t.orders }

func (t *Tx) Payments() payment.Repository { return t.payments }

// CheckoutStore adapts TxManager to checkout.Store.
type CheckoutStore struct {
	m *TxManager
}

// NewCheckoutStore returns a checkout.Store backed by m.
func NewCheckoutStore(m *TxManager) CheckoutStore {
	return CheckoutStore{m: m}
}

func (s CheckoutStore) WithinTx(ctx context.Context, fn func(tx checkout.Tx) error) error {
	return s.m.WithinTx(ctx, func(tx *Tx) error { return fn(tx) })
}

// PaymentStore adapts TxManager to payment.Store.
type PaymentStore struct {
	m *TxManager
}

// NewPaymentStore returns a payment.Store backed by m.
func NewPaymentStore(m *TxManager) PaymentStore {
	return PaymentStore{m: m}
}

func (s PaymentStore) WithinTx(ctx context.Context, fn func(tx payment.Tx) error) error {
	return s.m.WithinTx(ctx, func(tx *Tx) error { return fn(tx) })
}
