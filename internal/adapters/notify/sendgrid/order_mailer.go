package sendgrid

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"github.com/phenrril/jeanstore/internal/domain"
)

// SendFunc delivers one message and reports the HTTP status SendGrid answered with.
type SendFunc func(ctx context.Context, m *mail.SGMailV3) (status int, body string, err error)

// OrderMailer e-mails an order confirmation to the shipping address on the order.
type OrderMailer struct {
	fromName  string
	fromEmail string
	send      SendFunc
}

func NewOrderMailer(apiKey, fromName, fromEmail string) *OrderMailer {
	client := sg.NewSendClient(apiKey)
	return &OrderMailer{
		fromName:  fromName,
		fromEmail: fromEmail,
		send: func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
			res, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", err
			}
			return res.StatusCode, res.Body, nil
		},
	}
}

// WithSender replaces the transport.
func (m *OrderMailer) WithSender(send SendFunc) *OrderMailer {
	m.send = send
	return m
}

func (m *OrderMailer) OrderPlaced(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("order is nil")
	}
	if m.fromEmail == "" {
		return errors.New("sendgrid from address is empty")
	}
	to := strings.TrimSpace(o.Shipping.Email)
	if to == "" {
		return domain.Invalid("email", "order has no contact address")
	}
	subject := fmt.Sprintf("Order %s received", shortID(o.ID))
	text := renderText(o)
	msg := mail.NewSingleEmail(
		mail.NewEmail(m.fromName, m.fromEmail),
		subject,
		mail.NewEmail(o.Shipping.FullName, to),
		text,
		"<pre>"+html.EscapeString(text)+"</pre>",
	)
	status, body, err := m.send(ctx, msg)
	if err != nil {
		return domain.Remote("sendgrid.send", err)
	}
	if status >= 400 {
		return domain.Remote("sendgrid.send", fmt.Errorf("status=%d body=%s", status, body))
	}
	zlog.Info().Str("order", o.ID).Str("to", to).Int("status", status).Msg("order confirmation sent")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return strings.ToUpper(id[:8])
	}
	return strings.ToUpper(id)
}

func renderText(o *domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order %s. We will let you know when it ships.\n\n", o.Shipping.FullName, shortID(o.ID))
	for _, it := range o.Items {
		line := decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(it.Quantity)))
		variant := strings.TrimSpace(strings.Join(nonEmpty(it.Size, it.Color), " / "))
		if variant != "" {
			variant = " (" + variant + ")"
		}
		fmt.Fprintf(&b, "%d x %s%s  %s\n", it.Quantity, it.Name, variant, line.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n\n", decimal.NewFromFloat(o.TotalAmount).StringFixed(2))
	s := o.Shipping
	fmt.Fprintf(&b, "Shipping to:\n%s\n%s\n%s %s\n%s\n", s.FullName, s.Address, s.PostalCode, s.City, s.Country)
	return b.String()
}

func nonEmpty(xs ...string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
