package alerts

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

var errNoRecipients = errors.New("no mail recipients configured")

// MailNotifier delivers grouped alerts and recap digests over SMTP.
type MailNotifier struct {
	dialer     *gomail.Dialer
	from       string
	recipients []string
}

func NewMailNotifier(server string, port int, from, password string, recipients []string) *MailNotifier {
	return &MailNotifier{
		dialer:     gomail.NewDialer(server, port, from, password),
		from:       from,
		recipients: recipients,
	}
}

func (*MailNotifier) Name() string { return "mail" }

func (m *MailNotifier) Notify(ctx context.Context, subject, body string) error {
	if len(m.recipients) == 0 {
		return errNoRecipients
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	// gomail has no context support; run the dial in a goroutine so the
	// caller's deadline still applies.
	done := make(chan error, 1)

	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
