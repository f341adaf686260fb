package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-shop/internal/domain/order"
)

// Event types published to Kafka.
const (
	EventStatusChanged    = "order.status_changed"
	EventPaymentConfirmed = "payment.confirmed"
)

// MessageWriter is the subset of *kafka.Writer used by Events.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns a writer publishing to topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

var _ order.Notifier = (*Events)(nil)

// Events publishes order lifecycle events keyed by order id, so all events of
// one order land on the same partition.
type Events struct {
	w   MessageWriter
	now func() time.Time
}

// NewEvents creates an Events notifier.
func NewEvents(w MessageWriter) *Events {
	return &Events{w: w, now: time.Now}
}

func (e *Events) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	return e.publish(ctx, EventStatusChanged, o, from)
}

func (e *Events) PaymentConfirmed(ctx context.Context, o *order.Order) error {
	return e.publish(ctx, EventPaymentConfirmed, o, o.Status)
}

func (e *Events) publish(ctx context.Context, eventType string, o *order.Order, from order.Status) error {
	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: encodeEvent(eventType, o, from, e.now()),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := e.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", eventType)
	}
	return nil
}

func encodeEvent(eventType string, o *order.Order, from order.Status, at time.Time) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(eventType) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(from)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("total_amount", func(e *jx.Encoder) { e.Num(jx.Num(o.TotalAmount.StringFixed(2))) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
