// Package mailer delivers verification, password reset and magic link mails.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Templates identify the mail a receiver should render.
const (
	TemplateVerification  = "email_verification"
	TemplatePasswordReset = "password_reset"
	TemplateMagicLink     = "magic_link"
)

// Message is a single outbound mail.
type Message struct {
	From     string            `json:"from,omitempty"`
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Text     string            `json:"text"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Links builds the client URLs embedded in mails.
type Links struct {
	BaseURL string
}

func (l Links) build(path, token string) string {
	base := strings.TrimRight(l.BaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

// Verification composes the email verification mail.
func (l Links) Verification(to, token, code string) Message {
	link := l.build("/verify-email", token)
	return Message{
		To:       to,
		Subject:  "Verify your email address",
		Text:     fmt.Sprintf("Your verification code is %s.\n\nOr open %s to verify your email address.", code, link),
		Template: TemplateVerification,
		Data:     map[string]string{"link": link, "code": code},
	}
}

// PasswordReset composes the password reset mail.
func (l Links) PasswordReset(to, token string) Message {
	link := l.build("/reset-password", token)
	return Message{
		To:       to,
		Subject:  "Reset your password",
		Text:     fmt.Sprintf("Open %s to choose a new password. The link expires in 2 hours.", link),
		Template: TemplatePasswordReset,
		Data:     map[string]string{"link": link},
	}
}

// MagicLink composes the passwordless login mail.
func (l Links) MagicLink(to, token string) Message {
	link := l.build("/magic-link", token)
	return Message{
		To:       to,
		Subject:  "Your sign-in link",
		Text:     fmt.Sprintf("Open %s to sign in. The link expires in 30 minutes.", link),
		Template: TemplateMagicLink,
		Data:     map[string]string{"link": link},
	}
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log mailer.
func NewLogMailer(l *slog.Logger) *LogMailer {
	return &LogMailer{logger: l}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail not delivered, no webhook configured",
		slog.String("to", msg.To),
		slog.String("template", msg.Template),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// JSONPoster is the part of the HTTP client the webhook mailer depends on.
type JSONPoster interface {
	PostJSON(ctx context.Context, url string, v any, headers map[string]string) (*http.Response, error)
}
