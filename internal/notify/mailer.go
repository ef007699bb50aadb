package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/movement-intake/pkg/logging"
)

const (
	mailSendEndpoint = "/v3/mail/send"
	alertCategory    = "hot-lead"
	defaultFromName  = "Movement Intake"
)

// ErrMailerDisabled is returned by NewSendGridMailer when no API key is set.
var ErrMailerDisabled = errors.New("notify: sendgrid api key not configured")

// Alert is one hot-lead email addressed to one staff recipient.
type Alert struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// ReplyTo is the visitor's address, so staff can answer from the alert.
	ReplyTo   string
	LeadID    string
	SessionID string
}

// Mailer delivers alerts.
type Mailer interface {
	Deliver(ctx context.Context, alert Alert) error
}

// SendGridConfig holds the SendGrid account used for alerts. Host is only
// set to point the mailer at a test server.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Host      string
}

// SendGridMailer delivers alerts through the SendGrid v3 mail API. Every
// alert is tagged with the hot-lead category and carries the lead and
// session ids as custom args for the activity feed.
type SendGridMailer struct {
	apiKey string
	host   string
	from   *mail.Email
	logger *logging.Logger
}

func NewSendGridMailer(cfg SendGridConfig, logger *logging.Logger) (*SendGridMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMailerDisabled
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, errors.New("notify: sendgrid from address is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridMailer{
		apiKey: cfg.APIKey,
		host:   cfg.Host,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}, nil
}

// Deliver sends one alert. The SendGrid client holds the request body, so
// each call builds its own.
func (m *SendGridMailer) Deliver(ctx context.Context, alert Alert) error {
	if alert.To == "" {
		return errors.New("notify: alert has no recipient")
	}
	client := &sendgrid.Client{Request: sendgrid.GetRequest(m.apiKey, mailSendEndpoint, m.host)}
	client.Method = "POST"

	resp, err := client.SendWithContext(ctx, m.message(alert))
	if err != nil {
		m.logger.Error("notify: sendgrid request failed", "error", err, "to", alert.To, "lead_id", alert.LeadID)
		return fmt.Errorf("notify: deliver alert: %w", err)
	}
	if resp.StatusCode >= 400 {
		m.logger.Error("notify: sendgrid rejected alert", "status", resp.StatusCode, "body", resp.Body, "to", alert.To)
		return fmt.Errorf("notify: deliver alert: sendgrid status %d", resp.StatusCode)
	}
	m.logger.Info("notify: alert delivered", "to", alert.To, "lead_id", alert.LeadID, "status", resp.StatusCode)
	return nil
}

func (m *SendGridMailer) message(alert Alert) *mail.SGMailV3 {
	msg := mail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.Subject = alert.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", alert.To))
	if alert.LeadID != "" {
		p.SetCustomArg("lead_id", alert.LeadID)
	}
	if alert.SessionID != "" {
		p.SetCustomArg("session_id", alert.SessionID)
	}
	msg.AddPersonalizations(p)

	body := alert.HTML
	if body == "" {
		body = "<pre>" + html.EscapeString(alert.Text) + "</pre>"
	}
	// SendGrid requires text/plain ahead of text/html.
	msg.AddContent(mail.NewContent("text/plain", alert.Text), mail.NewContent("text/html", body))
	if alert.ReplyTo != "" {
		msg.SetReplyTo(mail.NewEmail("", alert.ReplyTo))
	}
	msg.AddCategories(alertCategory)
	return msg
}

// LogMailer records alerts in the log instead of sending them. It stands in
// for SendGrid when no API key is configured.
type LogMailer struct {
	logger *logging.Logger
}

func NewLogMailer(logger *logging.Logger) *LogMailer {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Deliver(_ context.Context, alert Alert) error {
	m.logger.Info("notify: hot lead alert not sent, no mail provider",
		"to", alert.To,
		"lead_id", alert.LeadID,
		"session_id", alert.SessionID,
		"subject", alert.Subject,
	)
	return nil
}
