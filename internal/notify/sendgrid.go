package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier delivers through the SendGrid v3 mail API.
type SendGridNotifier struct {
	client   mailSender
	fromName string
	fromAddr string
}

func NewSendGridNotifier(apiKey, fromName, fromAddr string) *SendGridNotifier {
	return &SendGridNotifier{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: fromName,
		fromAddr: fromAddr,
	}
}

func (n *SendGridNotifier) Notify(ctx context.Context, to string, kind Kind, data Data) error {
	email, err := Render(to, kind, data)
	if err != nil {
		return err
	}

	msg := mail.NewSingleEmail(
		mail.NewEmail(n.fromName, n.fromAddr),
		email.Subject,
		mail.NewEmail("", email.To),
		email.Text,
		email.HTML,
	)
	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
