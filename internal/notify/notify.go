// Package notify delivers order lifecycle events to customers and to other
// services.
package notify

import (
	"context"

	"go.uber.org/multierr"

	"github.com/xenking/kart-shop/internal/domain/order"
)

var _ order.Notifier = Multi(nil)

// Multi fans every event out to all notifiers and joins their errors.
type Multi []order.Notifier

func (m Multi) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.StatusChanged(ctx, o, from))
	}
	return err
}

func (m Multi) PaymentConfirmed(ctx context.Context, o *order.Order) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.PaymentConfirmed(ctx, o))
	}
	return err
}
