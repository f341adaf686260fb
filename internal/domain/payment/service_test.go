package payment

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-shop/internal/domain/auth"
	"github.com/xenking/kart-shop/internal/domain/order"
)

// --- Mock implementations ---

type mockProvider struct {
	payments   map[string]*ProviderPayment
	getErr     error
	block      bool
	prefReq    *PreferenceRequest
	preference *Preference
	prefErr    error
	getCalls   int
}

func (m *mockProvider) CreatePreference(_ context.Context, req PreferenceRequest) (*Preference, error) {
	m.prefReq = &req
	if m.prefErr != nil {
		return nil, m.prefErr
	}
	return m.preference, nil
}

func (m *mockProvider) GetPayment(ctx context.Context, id string) (*ProviderPayment, error) {
	m.getCalls++
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.payments[id]
	if !ok {
		return nil, errors.New("payment not found at provider")
	}
	cp := *p
	return &cp, nil
}

// memStore keeps orders and ledger rows and restores both when a
// transaction fails.
type memStore struct {
	orders    map[string]*order.Order
	payments  map[string]*Payment
	upsertErr error
}

func newMemStore(orders ...*order.Order) *memStore {
	s := &memStore{
		orders:   make(map[string]*order.Order),
		payments: make(map[string]*Payment),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	orders := make(map[string]*order.Order, len(m.orders))
	for k, v := range m.orders {
		cp := *v
		orders[k] = &cp
	}
	payments := make(map[string]*Payment, len(m.payments))
	for k, v := range m.payments {
		cp := *v
		payments[k] = &cp
	}

	if err := fn(memTx{m}); err != nil {
		m.orders, m.payments = orders, payments
		return err
	}
	return nil
}

type memTx struct{ store *memStore }

func (t memTx) Orders() order.Repository { return memOrders{t.store} }

func (t memTx) Payments() Repository { return memPayments{t.store} }

type memOrders struct{ store *memStore }

func (m memOrders) Create(_ context.Context, o *order.Order) error {
	m.store.orders[o.ID] = o
	return nil
}

func (m memOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.store.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m memOrders) GetByPreferenceID(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}

func (m memOrders) List(context.Context, string) ([]order.Order, error) { return nil, nil }

func (m memOrders) Update(_ context.Context, id string, fn order.UpdateFunc) (*order.Order, error) {
	o, ok := m.store.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	changed, err := fn(&cp)
	if err != nil {
		return nil, err
	}
	if changed {
		m.store.orders[id] = &cp
	}
	return &cp, nil
}

type memPayments struct{ store *memStore }

func (m memPayments) Upsert(_ context.Context, p *Payment) error {
	if m.store.upsertErr != nil {
		return m.store.upsertErr
	}
	if existing, ok := m.store.payments[p.ProviderID]; ok {
		existing.Status = p.Status
		existing.StatusDetail = p.StatusDetail
		existing.Amount = p.Amount
		existing.MethodID = p.MethodID
		existing.TypeID = p.TypeID
		existing.Details = p.Details
		existing.UpdatedAt = p.UpdatedAt
		return nil
	}
	cp := *p
	m.store.payments[p.ProviderID] = &cp
	return nil
}

type recordingNotifier struct {
	changes   []order.Status
	confirmed int
}

func (n *recordingNotifier) StatusChanged(_ context.Context, o *order.Order, _ order.Status) error {
	n.changes = append(n.changes, o.Status)
	return nil
}

func (n *recordingNotifier) PaymentConfirmed(context.Context, *order.Order) error {
	n.confirmed++
	return nil
}

// --- Helpers ---

const orderID = "3f1f8a3e-8d59-4a43-9d1b-6f0c7a0f2f10"

var alice = auth.Principal{UserID: "alice"}

func testOrder(status order.Status) *order.Order {
	return &order.Order{
		ID:            orderID,
		UserID:        "alice",
		Status:        status,
		PaymentStatus: order.PaymentNotStarted,
		Lines: []order.Line{
			{ProductID: "p1", Name: "Widget", Price: decimal.RequireFromString("10"), Quantity: 2},
			{Name: "Discontinued", Price: decimal.RequireFromString("5"), Quantity: 1},
		},
		TotalAmount: decimal.RequireFromString("25"),
		Customer: order.Customer{
			FullName:           "Alice Maria Souza",
			Email:              "alice@example.com",
			Address:            "Rua A, 10",
			ShippingPostalCode: "01000-000",
		},
	}
}

func providerPayment(status string) *ProviderPayment {
	return &ProviderPayment{
		ID:                "123456",
		Status:            status,
		ExternalReference: orderID,
		Amount:            decimal.RequireFromString("25"),
		PaymentMethodID:   "visa",
		PaymentTypeID:     "credit_card",
		Raw:               []byte(`{"id":123456,"status":"` + status + `"}`),
	}
}

func newTestService(store *memStore, provider *mockProvider, n order.Notifier) *Service {
	svc := NewService(store, memOrders{store}, provider, n, Config{
		FrontendURL:         "https://shop.example.com/",
		BackendURL:          "https://api.example.com",
		StatementDescriptor: "KART SHOP",
		Timeout:             50 * time.Millisecond,
	})
	svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc
}

func paymentNotification(id string) Notification {
	return Notification{Type: TypePayment, Action: "payment.updated", DataID: id}
}

// --- Tests ---

func TestProcessNotification_IgnoresOtherTypes(t *testing.T) {
	provider := &mockProvider{}
	svc := newTestService(newMemStore(), provider, nil)

	res, err := svc.ProcessNotification(context.Background(), Notification{Type: "merchant_order", DataID: "1"})
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res)
	assert.Zero(t, provider.getCalls)
}

func TestProcessNotification_MissingPaymentID(t *testing.T) {
	svc := newTestService(newMemStore(), &mockProvider{}, nil)

	_, err := svc.ProcessNotification(context.Background(), Notification{Type: TypePayment})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcessNotification_ProviderFailure(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	svc := newTestService(store, &mockProvider{getErr: errors.New("503")}, nil)

	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.ErrorIs(t, err, ErrExternalService)
	var ext *ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "get payment", ext.Op)
	assert.Equal(t, order.StatusCreated, store.orders[orderID].Status)
}

func TestProcessNotification_ProviderTimeout(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	svc := newTestService(store, &mockProvider{block: true}, nil)

	start := time.Now()
	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.ErrorIs(t, err, ErrExternalService)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessNotification_MissingExternalReference(t *testing.T) {
	pp := providerPayment("approved")
	pp.ExternalReference = ""
	svc := newTestService(newMemStore(), &mockProvider{payments: map[string]*ProviderPayment{"123456": pp}}, nil)

	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestProcessNotification_UnknownOrder(t *testing.T) {
	store := newMemStore()
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("approved")}}
	svc := newTestService(store, provider, nil)

	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Empty(t, store.payments)
}

func TestProcessNotification_Approved(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("approved")}}
	n := &recordingNotifier{}
	svc := newTestService(store, provider, n)

	res, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.NoError(t, err)
	assert.Equal(t, ResultProcessed, res)

	o := store.orders[orderID]
	assert.Equal(t, order.StatusPaid, o.Status)
	assert.Equal(t, order.PaymentApproved, o.PaymentStatus)
	assert.Equal(t, "123456", o.PaymentID)
	assert.Equal(t, "visa", o.PaymentMethod)

	require.Len(t, store.payments, 1)
	p := store.payments["123456"]
	assert.Equal(t, orderID, p.OrderID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "credit_card", p.TypeID)
	assert.True(t, decimal.RequireFromString("25").Equal(p.Amount))
	assert.JSONEq(t, `{"id":123456,"status":"approved"}`, string(p.Details))

	assert.Equal(t, []order.Status{order.StatusPaid}, n.changes)
	assert.Equal(t, 1, n.confirmed)
}

func TestProcessNotification_Idempotent(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("approved")}}
	n := &recordingNotifier{}
	svc := newTestService(store, provider, n)
	ctx := context.Background()

	for range 3 {
		_, err := svc.ProcessNotification(ctx, paymentNotification("123456"))
		require.NoError(t, err)
	}

	assert.Len(t, store.payments, 1)
	assert.Equal(t, order.StatusPaid, store.orders[orderID].Status)
	assert.Len(t, n.changes, 1, "replays do not repeat side effects")
	assert.Equal(t, 1, n.confirmed)
}

func TestProcessNotification_LastStatusWins(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("pending")}}
	svc := newTestService(store, provider, nil)
	ctx := context.Background()

	_, err := svc.ProcessNotification(ctx, paymentNotification("123456"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, store.orders[orderID].Status)
	assert.Equal(t, order.PaymentPending, store.orders[orderID].PaymentStatus)

	provider.payments["123456"] = providerPayment("approved")
	_, err = svc.ProcessNotification(ctx, paymentNotification("123456"))
	require.NoError(t, err)

	assert.Equal(t, order.StatusPaid, store.orders[orderID].Status)
	assert.Equal(t, order.PaymentApproved, store.orders[orderID].PaymentStatus)
	require.Len(t, store.payments, 1)
	assert.Equal(t, "approved", store.payments["123456"].Status)
}

func TestProcessNotification_LateEventsDoNotRegress(t *testing.T) {
	for _, status := range []order.Status{order.StatusShipped, order.StatusDelivered} {
		for _, provStatus := range []string{"approved", "rejected", "cancelled"} {
			t.Run(string(status)+"/"+provStatus, func(t *testing.T) {
				store := newMemStore(testOrder(status))
				provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment(provStatus)}}
				n := &recordingNotifier{}
				svc := newTestService(store, provider, n)

				_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
				require.NoError(t, err)
				assert.Equal(t, status, store.orders[orderID].Status)
				assert.Empty(t, n.changes)
			})
		}
	}
}

func TestProcessNotification_UnknownProviderStatus(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("charged_back")}}
	svc := newTestService(store, provider, nil)

	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.NoError(t, err)
	assert.Equal(t, order.PaymentUnknown, store.orders[orderID].PaymentStatus)
	assert.Equal(t, order.StatusCreated, store.orders[orderID].Status)
	assert.Equal(t, "charged_back", store.payments["123456"].Status)
}

func TestProcessNotification_LedgerFailureRollsBackOrder(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	store.upsertErr = errors.New("unique violation")
	provider := &mockProvider{payments: map[string]*ProviderPayment{"123456": providerPayment("approved")}}
	n := &recordingNotifier{}
	svc := newTestService(store, provider, n)

	_, err := svc.ProcessNotification(context.Background(), paymentNotification("123456"))
	require.Error(t, err)
	assert.Equal(t, order.StatusCreated, store.orders[orderID].Status)
	assert.Equal(t, order.PaymentNotStarted, store.orders[orderID].PaymentStatus)
	assert.Empty(t, n.changes)
}

func TestCreateIntent(t *testing.T) {
	store := newMemStore(testOrder(order.StatusCreated))
	provider := &mockProvider{preference: &Preference{
		ID:                 "pref-1",
		CheckoutURL:        "https://mp.example/checkout",
		SandboxCheckoutURL: "https://sandbox.mp.example/checkout",
	}}
	svc := newTestService(store, provider, nil)

	pref, err := svc.CreateIntent(context.Background(), alice, orderID)
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)

	o := store.orders[orderID]
	assert.Equal(t, "pref-1", o.PreferenceID)
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, order.PaymentNotStarted, o.PaymentStatus)

	req := provider.prefReq
	require.NotNil(t, req)
	require.Len(t, req.Items, 2)
	assert.Equal(t, PreferenceItem{ID: "p1", Title: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("10"), CurrencyID: "BRL"}, req.Items[0])
	assert.Equal(t, "line-2", req.Items[1].ID)
	assert.Equal(t, orderID, req.ExternalReference)
	assert.Equal(t, Payer{Name: "Alice", Surname: "Maria Souza", Email: "alice@example.com", StreetName: "Rua A, 10", ZipCode: "01000-000"}, req.Payer)
	assert.Equal(t, "https://shop.example.com/payment/success", req.BackURLs.Success)
	assert.Equal(t, "https://shop.example.com/payment/failure", req.BackURLs.Failure)
	assert.Equal(t, "https://shop.example.com/payment/pending", req.BackURLs.Pending)
	assert.Equal(t, "approved", req.AutoReturn)
	assert.Equal(t, "https://api.example.com/api/payments/webhook", req.NotificationURL)
	assert.Equal(t, "KART SHOP", req.StatementDescriptor)
	assert.False(t, req.BinaryMode)
}

func TestCreateIntent_Errors(t *testing.T) {
	t.Run("foreign order", func(t *testing.T) {
		store := newMemStore(testOrder(order.StatusCreated))
		svc := newTestService(store, &mockProvider{preference: &Preference{ID: "x"}}, nil)

		_, err := svc.CreateIntent(context.Background(), auth.Principal{UserID: "bob"}, orderID)
		require.ErrorIs(t, err, order.ErrNotFound)
	})
	t.Run("missing order", func(t *testing.T) {
		svc := newTestService(newMemStore(), &mockProvider{}, nil)

		_, err := svc.CreateIntent(context.Background(), alice, orderID)
		require.ErrorIs(t, err, order.ErrNotFound)
	})
	t.Run("already paid", func(t *testing.T) {
		store := newMemStore(testOrder(order.StatusPaid))
		svc := newTestService(store, &mockProvider{}, nil)

		_, err := svc.CreateIntent(context.Background(), alice, orderID)
		require.ErrorIs(t, err, order.ErrInvalidTransition)
	})
	t.Run("provider failure", func(t *testing.T) {
		store := newMemStore(testOrder(order.StatusCreated))
		svc := newTestService(store, &mockProvider{prefErr: errors.New("bad gateway")}, nil)

		_, err := svc.CreateIntent(context.Background(), alice, orderID)
		require.ErrorIs(t, err, ErrExternalService)
		assert.Empty(t, store.orders[orderID].PreferenceID)
	})
}
