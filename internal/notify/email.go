package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-faster/errors"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/xenking/kart-shop/internal/domain/order"
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGrid sends email through the SendGrid v3 API.
type SendGrid struct {
	client   *sendgrid.Client
	fromName string
	from     string
}

// NewSendGrid creates a SendGrid mailer.
func NewSendGrid(apiKey, from, fromName string) *SendGrid {
	return &SendGrid{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		from:     from,
	}
}

func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("recipient is empty")
	}
	m := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		msg.Subject,
		mail.NewEmail("", msg.To),
		msg.Text,
		"<pre>"+html.EscapeString(msg.Text)+"</pre>",
	)

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return errors.Wrap(err, "sendgrid send")
	}
	if resp.StatusCode >= 400 {
		return errors.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ order.Notifier = (*Email)(nil)

// Email notifies the customer about status changes and confirmed payments.
type Email struct {
	mailer Mailer
}

// NewEmail creates an Email notifier.
func NewEmail(mailer Mailer) *Email {
	return &Email{mailer: mailer}
}

func (e *Email) StatusChanged(ctx context.Context, o *order.Order, _ order.Status) error {
	to := o.ContactEmail()
	if to == "" {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s,\n\n", o.Customer.FullName)
	fmt.Fprintf(&b, "O status do seu pedido #%s foi atualizado para: %s.\n", o.ID, o.Status.Label())
	if o.Status == order.StatusShipped && o.TrackingNumber != "" {
		fmt.Fprintf(&b, "Código de rastreio: %s\n", o.TrackingNumber)
	}
	if o.Status == order.StatusCancelled && o.CancellationReason != "" {
		fmt.Fprintf(&b, "Motivo: %s\n", o.CancellationReason)
	}
	writeSummary(&b, o)

	return e.mailer.Send(ctx, Message{
		To:      to,
		Subject: fmt.Sprintf("Pedido #%s - %s", o.ID, o.Status.Label()),
		Text:    b.String(),
	})
}

func (e *Email) PaymentConfirmed(ctx context.Context, o *order.Order) error {
	to := o.ContactEmail()
	if to == "" {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Olá %s,\n\n", o.Customer.FullName)
	fmt.Fprintf(&b, "Recebemos o pagamento do seu pedido #%s.\n", o.ID)
	if o.PaymentMethod != "" {
		fmt.Fprintf(&b, "Forma de pagamento: %s\n", o.PaymentMethod)
	}
	writeSummary(&b, o)

	return e.mailer.Send(ctx, Message{
		To:      to,
		Subject: fmt.Sprintf("Pagamento Confirmado - Pedido #%s", o.ID),
		Text:    b.String(),
	})
}

func writeSummary(b *strings.Builder, o *order.Order) {
	b.WriteString("\nItens:\n")
	for _, l := range o.Lines {
		fmt.Fprintf(b, "  %dx %s  R$ %s\n", l.Quantity, l.Name, l.Subtotal().StringFixed(2))
	}
	if o.DiscountAmount.IsPositive() {
		fmt.Fprintf(b, "Desconto (%s): R$ %s\n", o.CouponCode, o.DiscountAmount.StringFixed(2))
	}
	fmt.Fprintf(b, "Total: R$ %s\n", o.TotalAmount.StringFixed(2))
}
