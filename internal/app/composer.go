package app

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"bloodwall/internal/domain/mail"
	"bloodwall/internal/domain/notification"
)

const (
	subjectPersonalReminder = "[Bloodwall] Quick update before MAM"
	subjectDigest           = "[Bloodwall] Nightly Digest"
	subjectMagicLink        = "Your Bloodwall magic link"

	emptyReminderLine = "Nothing pending — you're clear ✅"
	emptyDigestLine   = "No actions due in the next 24 hours 🎉"

	dueDateLayout = "Jan 2, 2006"
)

// Composer builds the message for one recipient. The dispatcher fills in the To address.
type Composer interface {
	Compose(ctx context.Context) (mail.Message, error)
}

// ComposerFunc adapts a function to the Composer interface.
type ComposerFunc func(ctx context.Context) (mail.Message, error)

func (f ComposerFunc) Compose(ctx context.Context) (mail.Message, error) {
	return f(ctx)
}

// Static returns a Composer that always yields msg.
func Static(msg mail.Message) Composer {
	return ComposerFunc(func(context.Context) (mail.Message, error) { return msg, nil })
}

const ctaStyle = `display:inline-block;padding:10px 14px;border:1px solid #111;border-radius:999px;text-decoration:none`

var personalReminderTmpl = template.Must(template.New("personal").Parse(`
<div style="font-family:ui-sans-serif,system-ui;line-height:1.6">
  <h2 style="margin:0 0 12px">Hi {{.Name}} 👋</h2>
  <p>MAM is coming up. Quick nudge to update your UDEs:</p>
  <ul>{{range .Items}}<li><b>{{.Title}}</b>{{if .Due}} — due {{.Due}}{{end}}</li>{{else}}<li>{{.Empty}}</li>{{end}}</ul>
  <p><a href="{{.Href}}" target="_blank" rel="noopener noreferrer" style="` + ctaStyle + `">Open your Me page →</a></p>
</div>`))

var mamReminderTmpl = template.Must(template.New("mam").Parse(`
<div style="font-family:ui-sans-serif,system-ui;line-height:1.6">
  <h2 style="margin:0 0 12px">MAM Reminder — {{.Company}}</h2>
  <p>Weekly review is coming up. Take 30 seconds to make sure your cards are current.</p>
  <p><a href="{{.Href}}" target="_blank" rel="noopener noreferrer" style="` + ctaStyle + `">Open Dashboard →</a></p>
</div>`))

var digestTmpl = template.Must(template.New("digest").Parse(`<!doctype html>
<html>
  <body style="font-family:system-ui,-apple-system,BlinkMacSystemFont,'Segoe UI',sans-serif;margin:0;padding:24px;background-color:#f8fafc;color:#0f172a;">
    <h1 style="margin-bottom:16px;font-size:20px;">Bloodwall — Nightly Digest</h1>
    {{if .Lines}}<ul style="padding-left:1.5rem;">
{{range .Lines}}  <li style="margin:0.5rem 0;">{{.Owner}} — “{{.Text}}” due {{.Due}}</li>
{{end}}</ul>{{else}}<p>{{.Empty}}</p>{{end}}
  </body>
</html>`))

var magicLinkTmpl = template.Must(template.New("magic").Parse(
	`<p>Use this link to access Bloodwall:</p><p><a href="{{.}}">{{.}}</a></p>`))

type reminderLine struct {
	Title string
	Due   string
}

type digestLine struct {
	Owner string
	Text  string
	Due   string
}

// PersonalReminder is the nightly "update before MAM" email.
func PersonalReminder(name string, items []notification.PendingItem, href string) (mail.Message, error) {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	lines := make([]reminderLine, 0, len(items))
	text := []string{"Please update your UDEs before MAM."}
	for _, it := range items {
		l := reminderLine{Title: it.Title}
		if it.Due != nil {
			l.Due = it.Due.UTC().Format(dueDateLayout)
		}
		lines = append(lines, l)
		if l.Due != "" {
			text = append(text, fmt.Sprintf("• %s — due %s", l.Title, l.Due))
		} else {
			text = append(text, "• "+l.Title)
		}
	}
	if len(lines) == 0 {
		text = append(text, emptyReminderLine)
	}
	text = append(text, "", "Open your Me page: "+href)

	html, err := render(personalReminderTmpl, map[string]any{
		"Name":  name,
		"Items": lines,
		"Empty": emptyReminderLine,
		"Href":  href,
	})
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{Subject: subjectPersonalReminder, Text: strings.Join(text, "\n"), HTML: html}, nil
}

// MAMReminder is the weekly meeting reminder sent to every member of a company.
func MAMReminder(companyName, href string) (mail.Message, error) {
	html, err := render(mamReminderTmpl, map[string]any{"Company": companyName, "Href": href})
	if err != nil {
		return mail.Message{}, err
	}
	text := fmt.Sprintf("MAM Reminder — %s\nWeekly review is coming up. Take 30 seconds to make sure your cards are current.\n\nOpen Dashboard: %s", companyName, href)
	return mail.Message{Subject: "[Bloodwall] MAM Reminder — " + companyName, Text: text, HTML: html}, nil
}

// NightlyDigest lists actions due soon across the workspace.
func NightlyDigest(items []notification.DigestItem) (mail.Message, error) {
	lines := make([]digestLine, 0, len(items))
	text := make([]string, 0, len(items))
	for _, it := range items {
		l := digestLine{
			Owner: strings.TrimSpace(it.OwnerName),
			Text:  strings.TrimSpace(it.Text),
			Due:   "No due date",
		}
		if l.Owner == "" {
			l.Owner = "Unassigned"
		}
		if l.Text == "" {
			l.Text = "Action"
		}
		if it.Due != nil {
			l.Due = it.Due.UTC().Format(dueDateLayout)
		}
		lines = append(lines, l)
		text = append(text, fmt.Sprintf("• %s — %q due %s", l.Owner, l.Text, l.Due))
	}
	if len(text) == 0 {
		text = append(text, emptyDigestLine)
	}

	html, err := render(digestTmpl, map[string]any{"Lines": lines, "Empty": emptyDigestLine})
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{Subject: subjectDigest, Text: strings.Join(text, "\n"), HTML: html}, nil
}

// MagicLinkMessage is the standalone sign-in email used by the dev test endpoint.
func MagicLinkMessage(link string) (mail.Message, error) {
	html, err := render(magicLinkTmpl, link)
	if err != nil {
		return mail.Message{}, err
	}
	return mail.Message{
		Subject: subjectMagicLink,
		Text:    "Use this link to access Bloodwall: " + link,
		HTML:    html,
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

