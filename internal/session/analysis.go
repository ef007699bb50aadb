package session

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/movement-intake/internal/analytics"
	"github.com/wolfman30/movement-intake/internal/scoring"
)

// softSignalMessages is the user message count that counts as a soft booking signal.
const softSignalMessages = 5

// Analysis summarizes the conversation so far.
type Analysis struct {
	MessageCount       int               `json:"messageCount"`
	UserMessageCount   int               `json:"userMessageCount"`
	DurationSeconds    int64             `json:"duration"`
	MentionedPain      bool              `json:"mentionedPain"`
	MentionedAge       bool              `json:"mentionedAge"`
	AskedAboutPrograms bool              `json:"askedAboutPrograms"`
	AskedAboutPricing  bool              `json:"askedAboutPricing"`
	ExpressedInterest  bool              `json:"expressedInterest"`
	AskedAboutBooking  bool              `json:"askedAboutBooking"`
	LeadScore          scoring.LeadScore `json:"leadScore"`
	DropOffRisk        bool              `json:"dropOffRisk"`
}

// Export is the admin review view of a session.
type Export struct {
	ID        string    `json:"sessionId"`
	Messages  []Message `json:"messages"`
	StartedAt time.Time `json:"startTime"`
	Duration  int64     `json:"duration"`
	Metadata  Metadata  `json:"metadata"`
	Analysis  Analysis  `json:"analysis"`
}

// UserText is the lowercased user-authored text joined by spaces.
func (s *Session) UserText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userTextLocked()
}

func (s *Session) userTextLocked() string {
	parts := make([]string, 0, len(s.messages))
	for _, m := range s.messages {
		if m.Role == RoleUser {
			parts = append(parts, strings.ToLower(m.Content))
		}
	}
	return strings.Join(parts, " ")
}

// Analyze derives keyword signals, the lead score and drop-off risk from the
// transcript and the current time. It does not touch storage.
func (s *Session) Analyze() Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyzeLocked()
}

func (s *Session) analyzeLocked() Analysis {
	now := s.deps.Clock.Now()
	text := s.userTextLocked()
	signals := s.deps.Scorer.Detect(text)

	a := Analysis{
		MessageCount:       len(s.messages),
		UserMessageCount:   s.userCountLocked(),
		DurationSeconds:    int64(now.Sub(s.startedAt) / time.Second),
		MentionedPain:      signals.MentionedPain,
		MentionedAge:       signals.MentionedAge,
		AskedAboutPrograms: signals.AskedAboutPrograms,
		AskedAboutPricing:  signals.AskedAboutPricing,
		ExpressedInterest:  signals.ExpressedInterest,
		AskedAboutBooking:  signals.AskedAboutBooking,
		LeadScore:          s.deps.Scorer.Score(text, len(s.messages)),
	}
	if n := len(s.messages); n > 0 {
		a.DropOffRisk = now.Sub(s.messages[n-1].Timestamp) > s.deps.Settings.DropOffAfter
	}
	return a
}

// ShouldSuggestBooking decides whether the visitor should be offered an
// assessment. Below the threshold it is always false; a booking or pricing
// question forces it; otherwise two soft signals are needed.
func (s *Session) ShouldSuggestBooking() bool {
	return SuggestBooking(s.Analyze(), s.deps.Settings.BookingThreshold)
}

// SuggestBooking applies the booking rule to an analysis.
func SuggestBooking(a Analysis, threshold int) bool {
	if a.UserMessageCount < threshold {
		return false
	}
	if a.AskedAboutBooking || a.AskedAboutPricing {
		return true
	}
	soft := 0
	if a.ExpressedInterest {
		soft++
	}
	if a.AskedAboutPrograms {
		soft++
	}
	if a.UserMessageCount >= softSignalMessages {
		soft++
	}
	return soft >= 2
}

// Export returns the transcript together with its analysis.
func (s *Session) Export() Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.analyzeLocked()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Export{
		ID:        s.id,
		Messages:  msgs,
		StartedAt: s.startedAt,
		Duration:  a.DurationSeconds,
		Metadata:  s.metadata,
		Analysis:  a,
	}
}

// TrackWidgetOpened records that the visitor opened the widget on pagePath.
func (s *Session) TrackWidgetOpened(ctx context.Context, pagePath string) {
	s.emit(ctx, analytics.EventWidgetOpened, map[string]any{
		"page_path":             pagePath,
		"session_id":            s.ID(),
		"existing_conversation": s.MessageCount() > 0,
	})
}

// TrackBookingSuggested records that a booking prompt was shown.
func (s *Session) TrackBookingSuggested(ctx context.Context) {
	s.emit(ctx, analytics.EventBookingSuggested, map[string]any{
		"conversation_length": s.MessageCount(),
		"duration_seconds":    s.Duration(),
		"session_id":          s.ID(),
	})
}

// TrackConversationCompleted records the end of a conversation.
func (s *Session) TrackConversationCompleted(ctx context.Context, resultedInBooking bool) {
	a := s.Analyze()
	s.emit(ctx, analytics.EventConversationCompleted, map[string]any{
		"total_messages":       a.MessageCount,
		"user_messages":        a.UserMessageCount,
		"duration_seconds":     a.DurationSeconds,
		"resulted_in_booking":  resultedInBooking,
		"mentioned_pain":       a.MentionedPain,
		"asked_about_programs": a.AskedAboutPrograms,
		"asked_about_pricing":  a.AskedAboutPricing,
		"lead_score":           a.LeadScore.Total,
		"session_id":           s.ID(),
	})
}
