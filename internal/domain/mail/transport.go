package mail

import "context"

// Message is a composed notification ready for delivery.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Receipt describes an accepted message.
type Receipt struct {
	MessageID   string
	DeliveredTo string // differs from Message.To when a redirect is active
	PreviewURL  string
}

// Transport delivers messages. It decouples dispatch logic from the SMTP client.
type Transport interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
