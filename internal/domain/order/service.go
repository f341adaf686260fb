package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/auth"
)

// Service implements the order queries and the user/staff driven status
// transitions.
type Service struct {
	orders   Repository
	notifier Notifier
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(orders Repository, notifier Notifier) *Service {
	return &Service{
		orders:   orders,
		notifier: notifier,
		now:      time.Now,
	}
}

// List returns the caller's orders, newest first. Staff may pass forUserID
// to list another user's orders, or "*" for every order.
func (s *Service) List(ctx context.Context, p auth.Principal, forUserID string) ([]Order, error) {
	userID := p.UserID
	if forUserID != "" && p.IsStaff() {
		userID = forUserID
		if forUserID == "*" {
			userID = ""
		}
	}
	orders, err := s.orders.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns an order visible to p.
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(p, o) {
		return nil, ErrNotFound
	}
	return o, nil
}

// GetByPreferenceID looks an order up by its payment preference. It is used
// by the payment return pages and is not scoped to a user.
func (s *Service) GetByPreferenceID(ctx context.Context, preferenceID string) (*Order, error) {
	if strings.TrimSpace(preferenceID) == "" {
		return nil, ErrNotFound
	}
	return s.orders.GetByPreferenceID(ctx, preferenceID)
}

// StatusChange is a staff request to move an order to a new status.
type StatusChange struct {
	To Status
	// TrackingNumber is stored when moving to SHIPPED.
	TrackingNumber string
	// Reason is recorded when moving to CANCELLED.
	Reason string
}

// UpdateStatus moves an order along the status machine. Only staff may call
// it; owners use Cancel.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, id string, change StatusChange) (*Order, error) {
	if !p.IsStaff() {
		return nil, ErrNotFound
	}
	if change.To == StatusCancelled {
		return s.cancel(ctx, id, func(*Order) (string, error) {
			return cancellationReason(change.Reason, true), nil
		})
	}

	var from Status
	o, err := s.orders.Update(ctx, id, func(o *Order) (bool, error) {
		from = o.Status
		changed, err := o.TransitionTo(change.To, s.now())
		if err != nil {
			return false, err
		}
		if change.To == StatusShipped && change.TrackingNumber != "" {
			o.TrackingNumber = change.TrackingNumber
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	if o.Status != from {
		s.notifyStatus(ctx, o, from)
	}
	return o, nil
}

// Cancel cancels an order owned by p (or any order when p is staff). An
// empty reason records DefaultCancellationReason, or StaffCancellationReason
// when staff cancel someone else's order.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id, reason string) (*Order, error) {
	return s.cancel(ctx, id, func(o *Order) (string, error) {
		if !visible(p, o) {
			return "", ErrNotFound
		}
		return cancellationReason(reason, o.UserID != p.UserID), nil
	})
}

// cancel resolves the reason against the locked order, so ownership is
// checked on the row being updated.
func (s *Service) cancel(ctx context.Context, id string, resolve func(*Order) (string, error)) (*Order, error) {
	var from Status
	o, err := s.orders.Update(ctx, id, func(o *Order) (bool, error) {
		reason, err := resolve(o)
		if err != nil {
			return false, err
		}
		from = o.Status
		if err := o.Cancel(reason, s.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyStatus(ctx, o, from)
	return o, nil
}

func cancellationReason(reason string, byStaff bool) string {
	switch {
	case strings.TrimSpace(reason) != "":
		return reason
	case byStaff:
		return StaffCancellationReason
	default:
		return DefaultCancellationReason
	}
}

func (s *Service) notifyStatus(ctx context.Context, o *Order, from Status) {
	NotifyStatusChanged(ctx, s.notifier, o, from)
}

// NotifyStatusChanged delivers a status change to n, logging failures.
func NotifyStatusChanged(ctx context.Context, n Notifier, o *Order, from Status) {
	if n == nil {
		return
	}
	if err := n.StatusChanged(ctx, o, from); err != nil {
		zctx.From(ctx).Warn("Order status notification failed",
			zap.String("order_id", o.ID),
			zap.String("from", string(from)),
			zap.String("to", string(o.Status)),
			zap.Error(err),
		)
	}
}

// NotifyPaymentConfirmed delivers a payment confirmation to n, logging failures.
func NotifyPaymentConfirmed(ctx context.Context, n Notifier, o *Order) {
	if n == nil {
		return
	}
	if err := n.PaymentConfirmed(ctx, o); err != nil {
		zctx.From(ctx).Warn("Payment confirmation notification failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func visible(p auth.Principal, o *Order) bool {
	return p.IsStaff() || o.UserID == p.UserID
}
