package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/auth"
	"github.com/xenking/kart-shop/internal/domain/order"
)

// Result tells the webhook caller what happened to a notification.
type Result string

const (
	ResultProcessed Result = "ok"
	ResultIgnored   Result = "ignored"
)

// Config holds the URLs and labels placed on payment preferences.
type Config struct {
	FrontendURL         string
	BackendURL          string
	StatementDescriptor string
	Currency            string
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// Service creates payment intents and reconciles provider notifications.
type Service struct {
	store    Store
	orders   order.Repository
	provider Provider
	notifier order.Notifier
	cfg      Config
	now      func() time.Time
}

// NewService creates a payment Service.
func NewService(store Store, orders order.Repository, provider Provider, notifier order.Notifier, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "BRL"
	}
	return &Service{
		store:    store,
		orders:   orders,
		provider: provider,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateIntent registers a payment preference for an order owned by p and
// stores its id on the order. The order status is not changed.
func (s *Service) CreateIntent(ctx context.Context, p auth.Principal, orderID string) (*Preference, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.IsStaff() && o.UserID != p.UserID {
		return nil, order.ErrNotFound
	}
	if o.Status != order.StatusCreated {
		return nil, &order.InvalidTransitionError{From: o.Status, To: order.StatusPaid}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pref, err := s.provider.CreatePreference(callCtx, s.preferenceRequest(o))
	if err != nil {
		return nil, asExternal("create preference", err)
	}

	if _, err := s.orders.Update(ctx, o.ID, func(o *order.Order) (bool, error) {
		o.PreferenceID = pref.ID
		o.UpdatedAt = s.now()
		return true, nil
	}); err != nil {
		return nil, errors.Wrap(err, "store preference id")
	}

	zctx.From(ctx).Info("Payment preference created",
		zap.String("order_id", o.ID),
		zap.String("preference_id", pref.ID),
	)
	return pref, nil
}

// ProcessNotification reconciles one provider notification. It is safe to
// call repeatedly with the same payment id: the order ends in the state
// implied by the latest provider status and the ledger keeps one row.
func (s *Service) ProcessNotification(ctx context.Context, n Notification) (Result, error) {
	lg := zctx.From(ctx)

	if !strings.EqualFold(n.Type, TypePayment) {
		lg.Debug("Ignoring notification", zap.String("type", n.Type), zap.String("action", n.Action))
		return ResultIgnored, nil
	}
	if n.DataID == "" {
		return "", errors.Wrap(ErrMalformedPayload, "missing payment id")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pp, err := s.provider.GetPayment(callCtx, n.DataID)
	if err != nil {
		return "", asExternal("get payment", err)
	}
	if pp.ExternalReference == "" {
		return "", errors.Wrapf(ErrMalformedPayload, "payment %s has no external reference", n.DataID)
	}
	providerID := pp.ID
	if providerID == "" {
		providerID = n.DataID
	}

	update := order.PaymentUpdate{
		Status:    order.PaymentStatusFromProvider(pp.Status),
		PaymentID: providerID,
		Method:    pp.PaymentMethodID,
	}

	var (
		updated *order.Order
		from    order.Status
		changed bool
	)
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.Orders().Update(ctx, pp.ExternalReference, func(o *order.Order) (bool, error) {
			from, changed = o.ApplyPayment(update, s.now())
			return true, nil
		})
		if err != nil {
			return err
		}
		updated = o

		now := s.now()
		return tx.Payments().Upsert(ctx, &Payment{
			ID:           uuid.New().String(),
			OrderID:      o.ID,
			ProviderID:   providerID,
			Status:       strings.ToLower(pp.Status),
			StatusDetail: pp.StatusDetail,
			Amount:       pp.Amount,
			MethodID:     pp.PaymentMethodID,
			TypeID:       pp.PaymentTypeID,
			Details:      pp.Raw,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		return "", err
	}

	lg.Info("Payment reconciled",
		zap.String("order_id", updated.ID),
		zap.String("payment_id", providerID),
		zap.String("payment_status", string(update.Status)),
		zap.String("order_status", string(updated.Status)),
		zap.Bool("status_changed", changed),
	)

	if changed {
		order.NotifyStatusChanged(ctx, s.notifier, updated, from)
		if updated.Status == order.StatusPaid {
			order.NotifyPaymentConfirmed(ctx, s.notifier, updated)
		}
	}
	return ResultProcessed, nil
}

func (s *Service) preferenceRequest(o *order.Order) PreferenceRequest {
	items := make([]PreferenceItem, len(o.Lines))
	for i, l := range o.Lines {
		id := l.ProductID
		if id == "" {
			id = fmt.Sprintf("line-%d", i+1)
		}
		items[i] = PreferenceItem{
			ID:         id,
			Title:      l.Name,
			Quantity:   l.Quantity,
			UnitPrice:  l.Price,
			CurrencyID: s.cfg.Currency,
		}
	}

	name, surname := splitName(o.Customer.FullName)
	frontend := strings.TrimRight(s.cfg.FrontendURL, "/")
	backend := strings.TrimRight(s.cfg.BackendURL, "/")

	return PreferenceRequest{
		Items: items,
		Payer: Payer{
			Name:       name,
			Surname:    surname,
			Email:      o.Customer.Email,
			StreetName: o.Customer.Address,
			ZipCode:    o.Customer.ShippingPostalCode,
		},
		ExternalReference: o.ID,
		BackURLs: BackURLs{
			Success: frontend + "/payment/success",
			Failure: frontend + "/payment/failure",
			Pending: frontend + "/payment/pending",
		},
		AutoReturn:          "approved",
		NotificationURL:     backend + "/api/payments/webhook",
		StatementDescriptor: s.cfg.StatementDescriptor,
		BinaryMode:          false,
	}
}

// splitName splits a full name at the first space.
func splitName(full string) (string, string) {
	name, surname, _ := strings.Cut(strings.TrimSpace(full), " ")
	return name, strings.TrimSpace(surname)
}

func asExternal(op string, err error) error {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalServiceError{Op: op, Err: err}
}
