package leads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	// Upsert creates the session's lead or merges new details into it.
	// Contact fields are only overwritten by non-empty values and the score
	// never goes down.
	Upsert(ctx context.Context, req *CaptureRequest) (*Lead, error)
	GetBySession(ctx context.Context, sessionID string) (*Lead, error)
	List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error)
	MarkAlerted(ctx context.Context, id string) error
}

// InMemoryRepository keeps leads in a map; used when no database is configured.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	now   func() time.Time
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *InMemoryRepository) Upsert(ctx context.Context, req *CaptureRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	lead, ok := r.leads[req.SessionID]
	if !ok {
		lead = &Lead{
			ID:        uuid.New().String(),
			SessionID: req.SessionID,
			CreatedAt: now,
		}
		r.leads[req.SessionID] = lead
	}
	merge(lead, req)
	lead.UpdatedAt = now

	out := *lead
	return &out, nil
}

// GetBySession retrieves the lead captured in a session
func (r *InMemoryRepository) GetBySession(ctx context.Context, sessionID string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[sessionID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	out := *lead
	return &out, nil
}

// List returns leads ordered by score, highest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error) {
	r.mu.RLock()
	all := make([]*Lead, 0, len(r.leads))
	for _, l := range r.leads {
		if l.Score < filter.MinScore {
			continue
		}
		out := *l
		all = append(all, &out)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	if filter.Offset >= len(all) {
		return []*Lead{}, nil
	}
	all = all[filter.Offset:]
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

func (r *InMemoryRepository) MarkAlerted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.leads {
		if l.ID == id {
			l.Alerted = true
			return nil
		}
	}
	return ErrLeadNotFound
}

func merge(lead *Lead, req *CaptureRequest) {
	lead.VisitorID = req.VisitorID
	if req.Email != "" {
		lead.Email = req.Email
	}
	if req.Phone != "" {
		lead.Phone = req.Phone
	}
	if lead.Message == "" {
		lead.Message = req.Message
	}
	if req.PageContext != "" {
		lead.PageContext = req.PageContext
	}
	if req.Score.Total >= lead.Score {
		lead.Urgency = req.Score.Urgency
		lead.Fit = req.Score.Fit
		lead.Readiness = req.Score.Readiness
		lead.Score = req.Score.Total
	}
}
