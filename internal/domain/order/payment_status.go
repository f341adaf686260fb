package order

import (
	"strings"
	"time"
)

// PaymentStatus mirrors the provider's view of the order's payment.
type PaymentStatus string

const (
	PaymentNotStarted PaymentStatus = "NOT_STARTED"
	PaymentPending    PaymentStatus = "PENDING"
	PaymentApproved   PaymentStatus = "APPROVED"
	PaymentInProcess  PaymentStatus = "IN_PROCESS"
	PaymentRejected   PaymentStatus = "REJECTED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentUnknown    PaymentStatus = "UNKNOWN"
)

var providerStatuses = map[string]PaymentStatus{
	"approved":   PaymentApproved,
	"pending":    PaymentPending,
	"in_process": PaymentInProcess,
	"rejected":   PaymentRejected,
	"refunded":   PaymentRefunded,
	"cancelled":  PaymentCancelled,
}

// PaymentStatusFromProvider maps a provider status string. Unmapped values
// become PaymentUnknown.
func PaymentStatusFromProvider(s string) PaymentStatus {
	if ps, ok := providerStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return ps
	}
	return PaymentUnknown
}

// PaymentUpdate is the result of a provider payment lookup applied to an order.
type PaymentUpdate struct {
	Status    PaymentStatus
	PaymentID string
	Method    string
}

// ApplyPayment records the payment fields and lets the payment status drive
// the order status:
//
//   - APPROVED moves the order to PAID unless it is already PROCESSING,
//     SHIPPED or DELIVERED.
//   - REJECTED and CANCELLED move the order to CANCELLED unless it is SHIPPED
//     or DELIVERED.
//
// It returns the previous order status and whether the order status changed.
func (o *Order) ApplyPayment(u PaymentUpdate, now time.Time) (Status, bool) {
	from := o.Status
	o.PaymentStatus = u.Status
	o.PaymentID = u.PaymentID
	o.PaymentMethod = u.Method
	o.UpdatedAt = now

	switch u.Status {
	case PaymentApproved:
		switch o.Status {
		case StatusProcessing, StatusShipped, StatusDelivered, StatusPaid:
		default:
			o.CancellationReason = ""
			o.setStatus(StatusPaid, now)
		}
	case PaymentRejected, PaymentCancelled:
		switch o.Status {
		case StatusShipped, StatusDelivered, StatusCancelled:
		default:
			o.CancellationReason = "payment " + strings.ToLower(string(u.Status))
			o.setStatus(StatusCancelled, now)
		}
	}

	return from, o.Status != from
}
