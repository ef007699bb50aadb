package leads

import (
	"strings"
	"time"

	"github.com/wolfman30/movement-intake/internal/scoring"
)

// Lead is a visitor who left contact details in the widget.
type Lead struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	VisitorID   string    `json:"visitor_id"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Message     string    `json:"message"`
	PageContext string    `json:"page_context"`
	Urgency     int       `json:"urgency"`
	Fit         int       `json:"fit"`
	Readiness   int       `json:"readiness"`
	Score       int       `json:"score"`
	Alerted     bool      `json:"alerted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Observation is what the orchestrator reports after each user turn.
type Observation struct {
	SessionID   string
	VisitorID   string
	Message     string
	PageContext string
	Score       scoring.LeadScore
}

// CaptureRequest is the upsert payload handed to a Repository.
type CaptureRequest struct {
	SessionID   string
	VisitorID   string
	Email       string
	Phone       string
	Message     string
	PageContext string
	Score       scoring.LeadScore
}

// Validate validates the capture request
func (r *CaptureRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return ErrMissingSession
	}
	if r.Email == "" && r.Phone == "" {
		return ErrMissingContact
	}
	return nil
}

// ListLeadsFilter narrows admin listings.
type ListLeadsFilter struct {
	Limit    int
	Offset   int
	MinScore int
}
