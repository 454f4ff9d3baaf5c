package mailer

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"bloodwall/internal/domain/mail"

	gomail "github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME(t *testing.T) {
	env := Envelope{
		From:      &gomail.Address{Name: "Bloodwall", Address: "no-reply@bloodwall.local"},
		To:        &gomail.Address{Address: "alice@example.com"},
		MessageID: "abc-123@bloodwall.local",
		Date:      time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC),
	}
	raw, err := BuildMIME(env, mail.Message{
		To:      "alice@example.com",
		Subject: "[Bloodwall] Nightly Digest",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	})
	require.NoError(t, err)

	r, err := gomail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[Bloodwall] Nightly Digest", subject)

	id, err := r.Header.MessageID()
	require.NoError(t, err)
	assert.Equal(t, "abc-123@bloodwall.local", id)

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "alice@example.com", to[0].Address)

	bodies := map[string]string{}
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		h, ok := p.Header.(*gomail.InlineHeader)
		require.True(t, ok)
		ct, _, err := h.ContentType()
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		bodies[ct] = strings.TrimSpace(string(b))
	}
	assert.Equal(t, "plain body", bodies["text/plain"])
	assert.Equal(t, "<p>html body</p>", bodies["text/html"])
}

func TestBuildMIME_TextOnly(t *testing.T) {
	env := Envelope{
		From:      &gomail.Address{Address: "no-reply@bloodwall.local"},
		To:        &gomail.Address{Address: "bob@example.com"},
		MessageID: "x@bloodwall.local",
		Date:      time.Now(),
	}
	raw, err := BuildMIME(env, mail.Message{Subject: "hi", Text: "only text"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "text/html")
	assert.Contains(t, string(raw), "multipart/alternative")
}
