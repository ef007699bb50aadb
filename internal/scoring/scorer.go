// Package scoring turns a visitor's accumulated words into a bounded lead score
// and a set of conversation signals. Everything here is a pure function of its
// inputs: the same text and message count always produce the same result.
package scoring

import (
	"fmt"
	"strings"
)

// MaxScore caps LeadScore.Total.
const MaxScore = 100

// Engagement tiers: more than engagedAfter messages earns one bonus,
// more than deeplyEngagedAfter earns a second.
const (
	engagedAfter       = 5
	deeplyEngagedAfter = 10
)

// LeadScore is the heuristic booking-readiness estimate for one session.
type LeadScore struct {
	Urgency    int `json:"urgency"`
	Fit        int `json:"fit"`
	Readiness  int `json:"readiness"`
	Engagement int `json:"engagement"`
	Total      int `json:"total"`
}

func (s LeadScore) String() string {
	return fmt.Sprintf("total=%d urgency=%d fit=%d readiness=%d engagement=%d",
		s.Total, s.Urgency, s.Fit, s.Readiness, s.Engagement)
}

// Signals are the analysis flags raised by the signal table.
type Signals struct {
	MentionedPain      bool `json:"mentionedPain"`
	MentionedAge       bool `json:"mentionedAge"`
	AskedAboutPrograms bool `json:"askedAboutPrograms"`
	AskedAboutPricing  bool `json:"askedAboutPricing"`
	ExpressedInterest  bool `json:"expressedInterest"`
	AskedAboutBooking  bool `json:"askedAboutBooking"`
}

// Scorer applies a rule table. It holds no mutable state.
type Scorer struct {
	rules            []Rule
	signals          []SignalRule
	engagementWeight int
}

// NewScorer builds a scorer over the default keyword tables.
func NewScorer(w Weights) *Scorer {
	return NewScorerWithRules(DefaultRules(w), DefaultSignalRules(), w.Engagement)
}

// NewScorerWithRules builds a scorer over caller-supplied tables.
func NewScorerWithRules(rules []Rule, signals []SignalRule, engagementWeight int) *Scorer {
	return &Scorer{
		rules:            rules,
		signals:          signals,
		engagementWeight: engagementWeight,
	}
}

// Score computes the lead score for the visitor's accumulated text.
// Each family counts at most once; when several rules of a family match,
// the heaviest one wins.
func (s *Scorer) Score(userText string, messageCount int) LeadScore {
	text := strings.ToLower(userText)

	best := make(map[Family]int, 3)
	for _, r := range s.rules {
		if r.Pattern == nil || !r.Pattern.MatchString(text) {
			continue
		}
		if cur, seen := best[r.Family]; !seen || r.Weight > cur {
			best[r.Family] = r.Weight
		}
	}

	score := LeadScore{
		Urgency:   nonNegative(best[FamilyUrgency]),
		Fit:       nonNegative(best[FamilyFit]),
		Readiness: nonNegative(best[FamilyReadiness]),
	}
	if messageCount > engagedAfter {
		score.Engagement += s.engagementWeight
	}
	if messageCount > deeplyEngagedAfter {
		score.Engagement += s.engagementWeight
	}
	score.Engagement = nonNegative(score.Engagement)

	total := score.Urgency + score.Fit + score.Readiness + score.Engagement
	switch {
	case total > MaxScore:
		total = MaxScore
	case total < 0:
		total = 0
	}
	score.Total = total
	return score
}

// Detect evaluates the signal table against the visitor's accumulated text.
func (s *Scorer) Detect(userText string) Signals {
	text := strings.ToLower(userText)
	var out Signals
	for _, r := range s.signals {
		if r.Pattern == nil || !r.Pattern.MatchString(text) {
			continue
		}
		switch r.Signal {
		case SignalPain:
			out.MentionedPain = true
		case SignalAge:
			out.MentionedAge = true
		case SignalPrograms:
			out.AskedAboutPrograms = true
		case SignalPricing:
			out.AskedAboutPricing = true
		case SignalInterest:
			out.ExpressedInterest = true
		case SignalBooking:
			out.AskedAboutBooking = true
		}
	}
	return out
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
