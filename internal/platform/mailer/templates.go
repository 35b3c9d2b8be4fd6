package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// Template names. Each has a "<name>.subject" and "<name>.txt" block under
// templates/text and a "<name>.html" block under templates/html.
const (
	TemplateGameReminder         = "game_reminder"
	TemplateGameUpdate           = "game_update"
	TemplateWaitlistSpot         = "waitlist_spot"
	TemplateWelcome              = "welcome"
	TemplateSubscriptionCanceled = "subscription_canceled"
	TemplatePaymentReceipt       = "payment_receipt"
	TemplatePaymentFailed        = "payment_failed"
	TemplateTrialEnded           = "trial_ended"
)

//go:embed templates
var templateFS embed.FS

var funcs = map[string]any{
	"date": func(t time.Time) string { return t.Format("Monday, January 2, 2006") },
	"money": func(cents int64, currency string) string {
		return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
	},
}

type Templates struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func NewTemplates() (*Templates, error) {
	h, err := htmltemplate.New("html").Funcs(funcs).ParseFS(templateFS, "templates/html/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	t, err := texttemplate.New("text").Funcs(funcs).ParseFS(templateFS, "templates/text/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &Templates{html: h, text: t}, nil
}

// Render produces a message for the named template. To is left empty.
func (t *Templates) Render(name string, data any) (Message, error) {
	var subject, text, html bytes.Buffer
	if err := t.text.ExecuteTemplate(&subject, name+".subject", data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	if err := t.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	return Message{
		Subject: strings.TrimSpace(subject.String()),
		Text:    strings.TrimSpace(text.String()),
		HTML:    strings.TrimSpace(html.String()),
	}, nil
}
