package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"bloodwall/internal/domain/mail"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultDialTimeout = 15 * time.Second

// SMTPConfig describes the relay used for real deliveries.
type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool // implicit TLS; otherwise STARTTLS is used when the server offers it
	Username string
	Password string
	From     *gomail.Address
}

// SMTPTransport delivers messages to an SMTP relay.
type SMTPTransport struct {
	cfg         SMTPConfig
	log         *logrus.Entry
	dialTimeout time.Duration
	now         func() time.Time
}

func NewSMTPTransport(cfg SMTPConfig, log *logrus.Entry) *SMTPTransport {
	return &SMTPTransport{
		cfg:         cfg,
		log:         log,
		dialTimeout: defaultDialTimeout,
		now:         time.Now,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return mail.Receipt{}, fmt.Errorf("context cancelled before sending email: %w", err)
	}

	to, err := gomail.ParseAddress(msg.To)
	if err != nil {
		return mail.Receipt{}, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}

	id := uuid.NewString() + "@" + addressDomain(t.cfg.From.Address)
	body, err := BuildMIME(Envelope{From: t.cfg.From, To: to, MessageID: id, Date: t.now()}, msg)
	if err != nil {
		return mail.Receipt{}, err
	}

	if err := t.deliver(ctx, to.Address, body); err != nil {
		return mail.Receipt{}, err
	}

	t.log.WithFields(logrus.Fields{
		"to":         to.Address,
		"message_id": id,
	}).Info("Email sent via SMTP.")

	return mail.Receipt{MessageID: "<" + id + ">", DeliveredTo: to.Address}, nil
}

func (t *SMTPTransport) deliver(ctx context.Context, rcpt string, body []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	dialer := &net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConfig := &tls.Config{ServerName: t.cfg.Host}
	if t.cfg.Secure {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if !t.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(t.cfg.From.Address); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err = client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err = w.Write(body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	// The relay accepted the message; a failed QUIT must not turn into a retryable send error.
	if err = client.Quit(); err != nil {
		t.log.WithError(err).WithField("to", rcpt).Warn("SMTP QUIT failed after the message was accepted.")
	}
	return nil
}

func addressDomain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i < len(address)-1 {
		return address[i+1:]
	}
	return "bloodwall.local"
}
