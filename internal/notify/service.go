package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

// HotLeadNotifier emails staff when a lead crosses the hot threshold.
type HotLeadNotifier struct {
	mailer     Mailer
	recipients []string
	logger     *logging.Logger
}

// NewHotLeadNotifier parses a comma separated recipient list.
func NewHotLeadNotifier(mailer Mailer, recipients string, logger *logging.Logger) *HotLeadNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &HotLeadNotifier{mailer: mailer, recipients: to, logger: logger}
}

// Enabled reports whether alerts can actually go out.
func (n *HotLeadNotifier) Enabled() bool {
	return n != nil && n.mailer != nil && len(n.recipients) > 0
}

// NotifyHotLead sends one email per recipient. All recipients are attempted;
// failures are joined.
func (n *HotLeadNotifier) NotifyHotLead(ctx context.Context, lead *leads.Lead) error {
	if lead == nil {
		return fmt.Errorf("notify: lead is nil")
	}
	if !n.Enabled() {
		n.logger.Debug("notify: hot lead alerts not configured, skipping", "lead_id", lead.ID)
		return nil
	}

	contact := leadContact(lead)
	subject := fmt.Sprintf("🔥 Hot lead (%d) - %s", lead.Score, contact)
	body := fmt.Sprintf(`A visitor scored %d on the intake widget.

Contact: %s
Page: %s
Urgency: %d
Fit: %d
Readiness: %d
First message: %s

Session: %s

Reach out soon while they are still warm.`,
		lead.Score, contact, pageOrDash(lead.PageContext),
		lead.Urgency, lead.Fit, lead.Readiness, lead.Message, lead.SessionID)

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #ea580c;">🔥 Hot lead: %d</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Contact:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Page:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>Urgency / Fit / Readiness:</strong></td><td style="padding: 8px;">%d / %d / %d</td></tr>
  <tr><td style="padding: 8px;"><strong>First message:</strong></td><td style="padding: 8px;">%s</td></tr>
</table>
<p style="color: #6b7280; font-size: 12px;">Session %s</p>
</div>`,
		lead.Score, html.EscapeString(contact), html.EscapeString(pageOrDash(lead.PageContext)),
		lead.Urgency, lead.Fit, lead.Readiness, html.EscapeString(lead.Message), html.EscapeString(lead.SessionID))

	var errs []error
	for _, recipient := range n.recipients {
		alert := Alert{
			To:        recipient,
			Subject:   subject,
			Text:      body,
			HTML:      htmlBody,
			ReplyTo:   lead.Email,
			LeadID:    lead.ID,
			SessionID: lead.SessionID,
		}
		if err := n.mailer.Deliver(ctx, alert); err != nil {
			n.logger.Error("notify: failed to send hot lead email", "error", err, "to", recipient)
			errs = append(errs, err)
			continue
		}
		n.logger.Info("notify: hot lead alert sent", "to", recipient, "lead_id", lead.ID)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: hot lead alert: %w", errors.Join(errs...))
	}
	return nil
}

func leadContact(lead *leads.Lead) string {
	switch {
	case lead.Email != "" && lead.Phone != "":
		return lead.Email + " / " + lead.Phone
	case lead.Email != "":
		return lead.Email
	case lead.Phone != "":
		return lead.Phone
	default:
		return "unknown"
	}
}

func pageOrDash(page string) string {
	if page == "" {
		return "-"
	}
	return page
}
