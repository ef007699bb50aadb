package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/movement-intake/pkg/logging"
)

// Notifier is told about leads that cross the hot threshold.
type Notifier interface {
	NotifyHotLead(ctx context.Context, lead *Lead) error
}

// Service turns per-turn observations into stored leads and hot-lead alerts.
type Service struct {
	repo      Repository
	notifier  Notifier
	threshold int
	logger    *logging.Logger
}

// NewService wires capture. A nil notifier disables alerts.
func NewService(repo Repository, notifier Notifier, hotThreshold int, logger *logging.Logger) *Service {
	if repo == nil {
		panic("leads: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, notifier: notifier, threshold: hotThreshold, logger: logger}
}

// Capture records contact details found in the visitor's message. Turns
// without contact info only refresh the score of an already captured lead.
// It returns nil, nil when there is nothing to record.
func (s *Service) Capture(ctx context.Context, obs Observation) (*Lead, error) {
	contact := ExtractContact(obs.Message)
	req := &CaptureRequest{
		SessionID:   obs.SessionID,
		VisitorID:   obs.VisitorID,
		Email:       contact.Email,
		Phone:       contact.Phone,
		Message:     obs.Message,
		PageContext: obs.PageContext,
		Score:       obs.Score,
	}

	if contact.Empty() {
		existing, err := s.repo.GetBySession(ctx, obs.SessionID)
		if errors.Is(err, ErrLeadNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		req.Email, req.Phone = existing.Email, existing.Phone
	}

	lead, err := s.repo.Upsert(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("leads: capture: %w", err)
	}
	if !contact.Empty() {
		s.logger.Info("lead captured", "lead_id", lead.ID, "session_id", lead.SessionID, "score", lead.Score)
	}

	if s.notifier != nil && !lead.Alerted && lead.Score >= s.threshold {
		if err := s.notifier.NotifyHotLead(ctx, lead); err != nil {
			s.logger.Warn("hot lead alert failed", "lead_id", lead.ID, "error", err)
			return lead, nil
		}
		if err := s.repo.MarkAlerted(ctx, lead.ID); err != nil {
			s.logger.Warn("failed to mark lead alerted", "lead_id", lead.ID, "error", err)
		}
		lead.Alerted = true
	}
	return lead, nil
}

// List passes through to the repository for admin listings.
func (s *Service) List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error) {
	return s.repo.List(ctx, filter)
}
