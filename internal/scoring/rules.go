package scoring

import "regexp"

// Family groups keywords that push the same lead sub-score.
type Family string

const (
	FamilyUrgency   Family = "urgency"
	FamilyFit       Family = "fit"
	FamilyReadiness Family = "readiness"
)

// Rule is one row of the scoring table.
type Rule struct {
	Family  Family
	Pattern *regexp.Regexp
	Weight  int
}

// Weights configures how much each family (and engagement tier) is worth.
type Weights struct {
	Urgency    int
	Fit        int
	Readiness  int
	Engagement int
}

// DefaultWeights gives every family and engagement tier ten points.
func DefaultWeights() Weights {
	return Weights{Urgency: 10, Fit: 10, Readiness: 10, Engagement: 10}
}

var (
	urgencyPattern   = regexp.MustCompile(`pain|hurt|asap|immediately|urgent|tomorrow|suffering`)
	fitAgePattern    = regexp.MustCompile(`40\+|\b[4-9][0-9]\b|senior|older|aging|stiff`)
	fitRecovery      = regexp.MustCompile(`injur|\bpt\b|physical therap|post-pt|recovery|chronic`)
	fitEventPattern  = regexp.MustCompile(`marathon|hyrox|\bocr\b|obstacle|climbing|triathlon`)
	readinessPattern = regexp.MustCompile(`price|pricing|cost|schedule|book|start|where are you|location`)
)

// DefaultRules builds the fitness intake keyword table with the given weights.
func DefaultRules(w Weights) []Rule {
	return []Rule{
		{Family: FamilyUrgency, Pattern: urgencyPattern, Weight: w.Urgency},
		{Family: FamilyFit, Pattern: fitAgePattern, Weight: w.Fit},
		{Family: FamilyFit, Pattern: fitRecovery, Weight: w.Fit},
		{Family: FamilyFit, Pattern: fitEventPattern, Weight: w.Fit},
		{Family: FamilyReadiness, Pattern: readinessPattern, Weight: w.Readiness},
	}
}

// Signal names a conversation flag derived from the visitor's own words.
type Signal string

const (
	SignalPain     Signal = "mentioned_pain"
	SignalAge      Signal = "mentioned_age"
	SignalPrograms Signal = "asked_about_programs"
	SignalPricing  Signal = "asked_about_pricing"
	SignalInterest Signal = "expressed_interest"
	SignalBooking  Signal = "asked_about_booking"
)

// SignalRule maps a pattern to the signal it raises.
type SignalRule struct {
	Signal  Signal
	Pattern *regexp.Regexp
}

// DefaultSignalRules is the keyword table behind conversation analysis.
func DefaultSignalRules() []SignalRule {
	return []SignalRule{
		{Signal: SignalPain, Pattern: regexp.MustCompile(`pain|hurt|injury|injured|sore`)},
		{Signal: SignalAge, Pattern: regexp.MustCompile(`\b\d{2}\b|\bold\b|\bolder\b|\bage\b|\baging\b`)},
		{Signal: SignalPrograms, Pattern: regexp.MustCompile(`program|training|longevity|rebuild|performance`)},
		{Signal: SignalPricing, Pattern: regexp.MustCompile(`price|cost|how much|pricing|afford`)},
		{Signal: SignalInterest, Pattern: regexp.MustCompile(`interested|sounds good|i think|i need|want to`)},
		{Signal: SignalBooking, Pattern: regexp.MustCompile(`book|schedule|appointment|assessment|start|get started`)},
	}
}
