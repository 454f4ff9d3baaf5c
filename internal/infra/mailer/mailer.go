// Package mailer provides the mail transports used by the dispatcher.
package mailer

import (
	"errors"

	"bloodwall/internal/domain/mail"
	"bloodwall/internal/infra/config"

	gomail "github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

// ErrTransportNotConfigured is returned by Ready when a real relay is required but missing.
var ErrTransportNotConfigured = errors.New("smtp transport required but SMTP_HOST is not set")

// Mailer is the configured transport plus its readiness state.
type Mailer struct {
	mail.Transport
	required   bool
	configured bool
}

// NewFromConfig picks the SMTP transport when SMTP_HOST is set and the test transport otherwise,
// then applies EMAIL_REDIRECT on top.
func NewFromConfig(cfg *config.AppConfig, log *logrus.Entry) *Mailer {
	var t mail.Transport
	if cfg.SMTPConfigured() {
		t = NewSMTPTransport(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Secure:   cfg.SMTPSecure,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     &gomail.Address{Name: cfg.FromName, Address: cfg.FromEmail},
		}, log.WithField("transport", "smtp"))
		log.Infof("Mail transport: SMTP relay %s:%d", cfg.SMTPHost, cfg.SMTPPort)
	} else {
		t = NewTestTransport(log.WithField("transport", "test"))
		log.Warn("SMTP_HOST not set, using disposable test transport.")
	}

	if cfg.EmailRedirect != "" {
		t = NewRedirectTransport(t, cfg.EmailRedirect)
		log.Infof("All outgoing mail redirected to %s", cfg.EmailRedirect)
	}

	return &Mailer{Transport: t, required: cfg.SMTPRequired, configured: cfg.SMTPConfigured()}
}

// Ready reports ErrTransportNotConfigured when SMTP_REQUIRED is set without a relay.
func (m *Mailer) Ready() error {
	if m.required && !m.configured {
		return ErrTransportNotConfigured
	}
	return nil
}
