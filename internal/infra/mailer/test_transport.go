package mailer

import (
	"context"
	"sync"

	"bloodwall/internal/domain/mail"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TestTransport is the disposable transport used when no SMTP relay is configured.
// Messages are logged and kept in memory; nothing leaves the process.
type TestTransport struct {
	mu   sync.Mutex
	log  *logrus.Entry
	sent []mail.Message
	fail error
}

func NewTestTransport(log *logrus.Entry) *TestTransport {
	return &TestTransport{log: log}
}

func (t *TestTransport) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mail.Receipt{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fail != nil {
		return mail.Receipt{}, t.fail
	}

	id := "<" + uuid.NewString() + "@test.bloodwall.local>"
	t.sent = append(t.sent, msg)

	t.log.WithFields(logrus.Fields{
		"to":         msg.To,
		"subject":    msg.Subject,
		"message_id": id,
	}).Info("Email captured by test transport.")

	return mail.Receipt{MessageID: id, DeliveredTo: msg.To}, nil
}

// FailWith makes every following Send return err. Pass nil to recover.
func (t *TestTransport) FailWith(err error) {
	t.mu.Lock()
	t.fail = err
	t.mu.Unlock()
}

// Sent returns a copy of the captured messages.
func (t *TestTransport) Sent() []mail.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]mail.Message, len(t.sent))
	copy(out, t.sent)
	return out
}
