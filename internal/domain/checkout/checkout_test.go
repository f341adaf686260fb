package checkout

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/product"
)

// --- Mock implementations ---

// memState is the whole persisted world of a test. memStore copies it before
// each transaction and restores the copy when the transaction fails.
type memState struct {
	carts   map[string]*cart.Cart
	coupons map[string]coupon.Rule
	orders  map[string]*order.Order
}

func (s *memState) clone() *memState {
	c := &memState{
		carts:   make(map[string]*cart.Cart, len(s.carts)),
		coupons: make(map[string]coupon.Rule, len(s.coupons)),
		orders:  make(map[string]*order.Order, len(s.orders)),
	}
	for k, v := range s.carts {
		cp := *v
		cp.Lines = append([]cart.Line(nil), v.Lines...)
		c.carts[k] = &cp
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

type memStore struct {
	state    *memState
	products map[string]product.Product
	orderErr error
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	backup := m.state.clone()
	if err := fn(&memTx{store: m}); err != nil {
		m.state = backup
		return err
	}
	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) LockCart(_ context.Context, userID string) (*cart.Cart, error) {
	c, ok := t.store.state.carts[userID]
	if !ok {
		c = &cart.Cart{ID: "cart-" + userID, UserID: userID}
		t.store.state.carts[userID] = c
	}
	return c, nil
}

func (t *memTx) ClearCart(_ context.Context, cartID string) error {
	for _, c := range t.store.state.carts {
		if c.ID == cartID {
			c.Lines = nil
		}
	}
	return nil
}

func (t *memTx) Products() product.Repository { return memProducts(t.store.products) }

func (t *memTx) Coupons() coupon.Repository { return memCoupons{t.store} }

func (t *memTx) Orders() order.Repository { return memOrders{t.store} }

type memProducts map[string]product.Product

func (m memProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m memProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memCoupons struct{ store *memStore }

func (m memCoupons) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r, ok := m.store.state.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &r, nil
}

func (m memCoupons) IncrementUses(_ context.Context, code string) error {
	r := m.store.state.coupons[strings.ToUpper(code)]
	if r.MaxUses != nil && r.Uses >= *r.MaxUses {
		return coupon.ErrUsageLimitReached
	}
	r.Uses++
	m.store.state.coupons[strings.ToUpper(code)] = r
	return nil
}

func (m memCoupons) Upsert(_ context.Context, rule *coupon.Rule) error {
	m.store.state.coupons[strings.ToUpper(rule.Code)] = *rule
	return nil
}

type memOrders struct{ store *memStore }

func (m memOrders) Create(_ context.Context, o *order.Order) error {
	if m.store.orderErr != nil {
		return m.store.orderErr
	}
	m.store.state.orders[o.ID] = o
	return nil
}

func (m memOrders) Get(context.Context, string) (*order.Order, error) { return nil, order.ErrNotFound }

func (m memOrders) GetByPreferenceID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m memOrders) List(context.Context, string) ([]order.Order, error) { return nil, nil }

func (m memOrders) Update(context.Context, string, order.UpdateFunc) (*order.Order, error) {
	return nil, order.ErrNotFound
}

type recordingCache struct {
	invalidated []string
}

func (r *recordingCache) Invalidate(_ context.Context, userID string) {
	r.invalidated = append(r.invalidated, userID)
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newStore(lines ...cart.Line) *memStore {
	s := &memStore{
		state: &memState{
			carts:   map[string]*cart.Cart{"alice": {ID: "cart-alice", UserID: "alice", Lines: lines}},
			coupons: map[string]coupon.Rule{},
			orders:  map[string]*order.Order{},
		},
		products: map[string]product.Product{
			"p1": {ID: "p1", Name: "Widget", Price: d("10"), Category: "tools"},
			"p2": {ID: "p2", Name: "Gadget", Price: d("5"), Category: "toys"},
		},
	}
	return s
}

func (m *memStore) addCoupon(r coupon.Rule) {
	m.state.coupons[strings.ToUpper(r.Code)] = r
}

func newTestService(store Store, cache CartCache) *Service {
	engine := coupon.NewEngine(nil)
	svc := NewService(store, engine, cache)
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	return svc
}

func validRequest() Request {
	return Request{
		UserID: "alice",
		Customer: order.Customer{
			FullName: "Alice Souza",
			Email:    "alice@example.com",
			Address:  "Rua A, 10",
		},
	}
}

func standardLines() []cart.Line {
	return []cart.Line{
		{ID: "l1", ProductID: "p1", Quantity: 2},
		{ID: "l2", ProductID: "p2", Quantity: 1},
	}
}

func maxUses(n int) *int {
	return &n
}

// --- Tests ---

func TestCreateOrder_EmptyCart(t *testing.T) {
	store := newStore()
	svc := newTestService(store, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, store.state.orders)
}

func TestCreateOrder_NoCoupon(t *testing.T) {
	store := newStore(standardLines()...)
	cache := &recordingCache{}
	svc := newTestService(store, cache)

	o, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, d("25").Equal(o.TotalAmount), "got %s", o.TotalAmount)
	assert.True(t, decimal.Zero.Equal(o.DiscountAmount))
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, order.PaymentNotStarted, o.PaymentStatus)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, order.Line{ProductID: "p1", Name: "Widget", Price: d("10"), Quantity: 2}, o.Lines[0])
	assert.Equal(t, "Brasil", o.Customer.ShippingCountry)
	assert.Equal(t, "Alice Souza", o.Customer.ShippingFullName)
	assert.Equal(t, order.DeliveryStandard, o.Delivery.Type)

	assert.Empty(t, store.state.carts["alice"].Lines)
	assert.Contains(t, store.state.orders, o.ID)
	assert.Equal(t, []string{"alice"}, cache.invalidated)
}

func TestCreateOrder_WithCoupon(t *testing.T) {
	store := newStore(standardLines()...)
	store.addCoupon(coupon.Rule{Code: "TENOFF", DiscountType: coupon.DiscountPercentage, Value: d("10"), Active: true, Uses: 3})
	svc := newTestService(store, nil)

	req := validRequest()
	req.CouponCode = "tenoff"
	o, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, d("22.5").Equal(o.TotalAmount), "got %s", o.TotalAmount)
	assert.True(t, d("2.5").Equal(o.DiscountAmount), "got %s", o.DiscountAmount)
	assert.Equal(t, "TENOFF", o.CouponCode)
	assert.Equal(t, 4, store.state.coupons["TENOFF"].Uses, "exactly one use recorded")
	assert.Empty(t, store.state.carts["alice"].Lines)
}

func TestCreateOrder_InvalidCouponLeavesNothing(t *testing.T) {
	tests := []struct {
		name   string
		coupon *coupon.Rule
		code   string
	}{
		{name: "unknown code", code: "NOPE"},
		{
			name:   "minimum purchase not met",
			coupon: &coupon.Rule{Code: "BIG", DiscountType: coupon.DiscountFixed, Value: d("5"), MinPurchase: d("50"), Active: true},
			code:   "BIG",
		},
		{
			name:   "usage cap exhausted",
			coupon: &coupon.Rule{Code: "GONE", DiscountType: coupon.DiscountFixed, Value: d("5"), MaxUses: maxUses(1), Uses: 1, Active: true},
			code:   "GONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(standardLines()...)
			if tt.coupon != nil {
				store.addCoupon(*tt.coupon)
			}
			svc := newTestService(store, nil)

			req := validRequest()
			req.CouponCode = tt.code
			_, err := svc.CreateOrder(context.Background(), req)

			require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
			assert.Empty(t, store.state.orders)
			assert.Len(t, store.state.carts["alice"].Lines, 2)
			if tt.coupon != nil {
				assert.Equal(t, tt.coupon.Uses, store.state.coupons[tt.coupon.Code].Uses)
			}
		})
	}
}

func TestCreateOrder_FailureRollsBackCouponUse(t *testing.T) {
	store := newStore(standardLines()...)
	store.addCoupon(coupon.Rule{Code: "TENOFF", DiscountType: coupon.DiscountPercentage, Value: d("10"), Active: true})
	store.orderErr = errors.New("insert failed")
	svc := newTestService(store, nil)

	req := validRequest()
	req.CouponCode = "TENOFF"
	_, err := svc.CreateOrder(context.Background(), req)

	require.Error(t, err)
	assert.Zero(t, store.state.coupons["TENOFF"].Uses)
	assert.Len(t, store.state.carts["alice"].Lines, 2)
}

func TestCreateOrder_SecondCheckoutSeesEmptyCart(t *testing.T) {
	store := newStore(standardLines()...)
	svc := newTestService(store, nil)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, validRequest())
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.Len(t, store.state.orders, 1)
}

func TestCreateOrder_DeletedProduct(t *testing.T) {
	store := newStore(cart.Line{ID: "l1", ProductID: "ghost", Quantity: 1})
	svc := newTestService(store, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())
	var pnf *order.ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, "ghost", pnf.ProductID)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(r *Request)
		field string
	}{
		{name: "missing name", mut: func(r *Request) { r.Customer.FullName = " " }, field: "full_name"},
		{name: "bad email", mut: func(r *Request) { r.Customer.Email = "not-an-email" }, field: "email"},
		{name: "missing address", mut: func(r *Request) { r.Customer.Address = "" }, field: "address"},
		{name: "bad delivery type", mut: func(r *Request) { r.Delivery.Type = "teleport" }, field: "delivery_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(standardLines()...)
			svc := newTestService(store, nil)

			req := validRequest()
			tt.mut(&req)
			_, err := svc.CreateOrder(context.Background(), req)

			require.ErrorIs(t, err, ErrValidation)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Len(t, store.state.carts["alice"].Lines, 2)
		})
	}
}
