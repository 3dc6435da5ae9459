package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/username/brokerbridge/backend/src/config"
	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/models"
)

// Notifier tells an operator about brokerage connections that need attention.
type Notifier interface {
	ConnectionAlert(ctx context.Context, ev models.WebhookEvent) error
}

func NewNotifier(cfg *config.AppConfig) Notifier {
	if cfg == nil {
		logger.L.Error("Configuration is nil. Notifier will default to mock.")
		return &MockNotifier{}
	}

	provider := strings.ToLower(cfg.EmailServiceProvider)
	logger.L.Info("Initializing notifier", "provider", provider)

	switch provider {
	case "mailgun":
		if cfg.MailgunDomain == "" || cfg.MailgunPrivateAPIKey == "" || cfg.SenderEmail == "" || cfg.AlertEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, SenderEmail or AlertEmail missing). Falling back to MockNotifier.")
			return &MockNotifier{Recipient: cfg.AlertEmail}
		}
		mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", cfg.MailgunDomain)
		return &MailgunNotifier{
			mg:          mg,
			senderEmail: cfg.SenderEmail,
			senderName:  cfg.SenderName,
			recipient:   cfg.AlertEmail,
		}
	default:
		logger.L.Info("Defaulting to MockNotifier.")
		return &MockNotifier{Recipient: cfg.AlertEmail}
	}
}

type MailgunNotifier struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
	recipient   string
}

func (n *MailgunNotifier) ConnectionAlert(ctx context.Context, ev models.WebhookEvent) error {
	from := fmt.Sprintf("%s <%s>", n.senderName, n.senderEmail)
	subject, plainTextBody := composeAlert(ev)

	message := n.mg.NewMessage(from, subject, plainTextBody, n.recipient)
	message.AddTag("connection-alert")

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, id, err := n.mg.Send(ctx, message)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to send connection alert via Mailgun", "error", err, "eventId", ev.ID, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	logger.FromContext(ctx).Info("Connection alert sent via Mailgun", "eventId", ev.ID, "id", id, "mailgunResp", resp)
	return nil
}

// MockNotifier only logs the alert it would have sent.
type MockNotifier struct {
	Recipient string
}

func (m *MockNotifier) ConnectionAlert(ctx context.Context, ev models.WebhookEvent) error {
	subject, _ := composeAlert(ev)
	logger.FromContext(ctx).Info("MockNotifier: Would send connection alert.", "to", m.Recipient, "subject", subject, "eventId", ev.ID)
	return nil
}

func composeAlert(ev models.WebhookEvent) (string, string) {
	user := deref(ev.UserID, "unknown user")
	authorization := deref(ev.AuthID, "n/a")

	subject := fmt.Sprintf("Brokerage connection %s for %s", alertVerb(ev.Kind), user)
	body := fmt.Sprintf(`A brokerage connection needs attention.

Event:          %s
User:           %s
Authorization:  %s
Event ID:       %s

The user will need to reconnect through the connection portal.`, ev.Type, user, authorization, ev.ID)
	return subject, body
}

func alertVerb(kind models.EventKind) string {
	switch kind {
	case models.EventConnectionFailed:
		return "failed"
	case models.EventDisconnected:
		return "disconnected"
	default:
		return "changed"
	}
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
