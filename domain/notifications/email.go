package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/emergent-company/tether/domain/users"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

const emailSendTimeout = 30 * time.Second

// ErrNoAddress means the recipient has no email on file.
var ErrNoAddress = errors.New("recipient has no email address")

// Mailer sends one plain-text email and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, to, subject, text string) (string, error)
}

// MailgunMailer sends through the Mailgun API.
type MailgunMailer struct {
	client *mailgun.MailgunImpl
	from   string
}

// NewMailgunMailer creates a mailer from cfg. The caller checks
// cfg.IsConfigured first.
func NewMailgunMailer(cfg config.EmailConfig) *MailgunMailer {
	client := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
	if cfg.MailgunAPIBase != "" {
		client.SetAPIBase(cfg.MailgunAPIBase)
	}
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &MailgunMailer{client: client, from: from}
}

func (m *MailgunMailer) Send(ctx context.Context, to, subject, text string) (string, error) {
	msg := m.client.NewMessage(m.from, subject, text, to)
	_, id, err := m.client.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return id, nil
}

type directory interface {
	GetByID(ctx context.Context, id string) (*users.User, error)
}

// EmailChannel mails selected notification events to their recipient.
type EmailChannel struct {
	mailer    Mailer
	templates *Templates
	users     directory
	events    map[string]bool
	log       *slog.Logger
}

// NewEmailChannel returns nil when email is not configured.
func NewEmailChannel(cfg *config.Config, dir *users.Service, log *slog.Logger) (*EmailChannel, error) {
	ec := cfg.Notifications.Email
	if !ec.IsConfigured() {
		log.Info("notification email disabled", logger.Scope("notifications.email"))
		return nil, nil
	}
	templates, err := NewTemplates()
	if err != nil {
		return nil, err
	}
	return newEmailChannel(NewMailgunMailer(ec), templates, dir, ec.Events, log), nil
}

func newEmailChannel(mailer Mailer, templates *Templates, dir directory, events []string, log *slog.Logger) *EmailChannel {
	c := &EmailChannel{
		mailer:    mailer,
		templates: templates,
		users:     dir,
		events:    make(map[string]bool, len(events)),
		log:       log.With(logger.Scope("notifications.email")),
	}
	for _, e := range events {
		if templates.Has(e) {
			c.events[e] = true
		}
	}
	return c
}

// Wants reports whether event is mailed. A nil channel wants nothing.
func (c *EmailChannel) Wants(event string) bool {
	return c != nil && c.events[event]
}

// Deliver renders n and mails it to its recipient.
func (c *EmailChannel) Deliver(ctx context.Context, n *Notification) error {
	recipient, err := c.users.GetByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if recipient.Email == nil || *recipient.Email == "" {
		return ErrNoAddress
	}

	data := map[string]any{
		"recipientName": recipient.DisplayName,
		"actorName":     c.actorName(ctx, n.Payload),
	}
	if msg, ok := n.Payload["message"].(string); ok {
		data["message"] = msg
	}
	msg, err := c.templates.Render(n.Event, data)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, emailSendTimeout)
	defer cancel()
	id, err := c.mailer.Send(sctx, *recipient.Email, msg.Subject, msg.Text)
	if err != nil {
		return err
	}
	c.log.Debug("notification emailed",
		slog.String("user_id", n.UserID),
		slog.String("event", n.Event),
		slog.String("message_id", id))
	return nil
}

// actorName resolves the user who triggered the event, falling back to a
// generic name when the lookup fails.
func (c *EmailChannel) actorName(ctx context.Context, payload map[string]any) string {
	for _, key := range []string{"fromUserId", "byUserId"} {
		id, _ := payload[key].(string)
		if id == "" {
			continue
		}
		if u, err := c.users.GetByID(ctx, id); err == nil && u.DisplayName != "" {
			return u.DisplayName
		}
	}
	return "Someone"
}
