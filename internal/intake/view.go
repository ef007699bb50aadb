package intake

import (
	"github.com/wolfman30/movement-intake/internal/scoring"
	"github.com/wolfman30/movement-intake/internal/session"
)

// SessionView is what a presentation adapter renders after every change.
type SessionView struct {
	SessionID          string            `json:"session_id"`
	Phase              session.Phase     `json:"phase"`
	PhaseName          string            `json:"phase_name"`
	PageContext        string            `json:"page_context"`
	Messages           []session.Message `json:"messages"`
	SuggestedQuestions []string          `json:"suggested_questions"`
	LeadScore          scoring.LeadScore `json:"lead_score"`
	SuggestBooking     bool              `json:"suggest_booking"`
	DropOffRisk        bool              `json:"drop_off_risk"`
}

// View renders sess for a presentation adapter.
func (o *Orchestrator) View(sess *session.Session) SessionView {
	a := sess.Analyze()
	phase := sess.Phase()
	return SessionView{
		SessionID:          sess.ID(),
		Phase:              phase,
		PhaseName:          phase.String(),
		PageContext:        string(sess.Metadata().PageContext),
		Messages:           sess.Messages(),
		SuggestedQuestions: o.SuggestedQuestions(a),
		LeadScore:          a.LeadScore,
		SuggestBooking:     session.SuggestBooking(a, o.settings.BookingThreshold),
		DropOffRisk:        a.DropOffRisk,
	}
}
