package order

import (
	"slices"
	"strings"
	"time"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusPaid       Status = "PAID"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusCreated:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

var statusLabels = map[Status]string{
	StatusCreated:    "Pedido criado",
	StatusPaid:       "Pagamento confirmado",
	StatusProcessing: "Em processamento",
	StatusShipped:    "Enviado",
	StatusDelivered:  "Entregue",
	StatusCancelled:  "Cancelado",
}

// ParseStatus converts s (any case) into a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := statusLabels[st]
	return st, ok
}

// Label returns the customer-facing name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from s to to.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// Cancellable reports whether the order can still be cancelled.
func (s Status) Cancellable() bool {
	return s.CanTransition(StatusCancelled)
}

// TransitionTo moves the order to status to and stamps the matching
// timestamp. Setting the current status again is a no-op and reports false.
func (o *Order) TransitionTo(to Status, now time.Time) (bool, error) {
	if o.Status == to {
		return false, nil
	}
	if !o.Status.CanTransition(to) {
		return false, &InvalidTransitionError{From: o.Status, To: to}
	}
	o.setStatus(to, now)
	return true, nil
}

// Cancel moves the order to CANCELLED recording reason.
func (o *Order) Cancel(reason string, now time.Time) error {
	if !o.Status.Cancellable() {
		return &InvalidTransitionError{From: o.Status, To: StatusCancelled}
	}
	o.CancellationReason = reason
	o.setStatus(StatusCancelled, now)
	return nil
}

func (o *Order) setStatus(to Status, now time.Time) {
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	}
}
