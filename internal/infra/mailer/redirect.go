package mailer

import (
	"context"

	"bloodwall/internal/domain/mail"
)

// RedirectTransport sends every message to a fixed address. Callers keep addressing (and
// claiming) the logical recipient; only the delivery address changes.
type RedirectTransport struct {
	next mail.Transport
	to   string
}

func NewRedirectTransport(next mail.Transport, to string) *RedirectTransport {
	return &RedirectTransport{next: next, to: to}
}

func (t *RedirectTransport) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	msg.To = t.to
	return t.next.Send(ctx, msg)
}
