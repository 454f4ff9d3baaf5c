package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"bloodwall/internal/domain/mail"

	gomail "github.com/emersion/go-message/mail"
)

// Envelope carries the header values that are not part of the composed message.
type Envelope struct {
	From      *gomail.Address
	To        *gomail.Address
	MessageID string // without angle brackets
	Date      time.Time
}

// BuildMIME renders msg as multipart/alternative with a text part and, when present, an html part.
func BuildMIME(env Envelope, msg mail.Message) ([]byte, error) {
	var h gomail.Header
	h.SetDate(env.Date)
	h.SetAddressList("From", []*gomail.Address{env.From})
	h.SetAddressList("To", []*gomail.Address{env.To})
	h.SetSubject(msg.Subject)
	h.SetMessageID(env.MessageID)
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer
	w, err := gomail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mime writer: %w", err)
	}

	if err := writePart(w, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(w, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return pw.Close()
}
