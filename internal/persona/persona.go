// Package persona loads the assistant profiles: the system prompt, knowledge
// base and canned texts the orchestrator speaks with.
package persona

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/movement-intake/internal/scoring"
)

//go:embed profiles
var ProfilesFS embed.FS

// ErrUnknownProfile is returned when no profile file matches the requested name.
var ErrUnknownProfile = errors.New("persona: unknown profile")

// Profile is one assistant persona.
type Profile struct {
	Name          string             `yaml:"name"`
	AssistantName string             `yaml:"assistant_name"`
	SystemPrompt  string             `yaml:"system_prompt"`
	KnowledgeBase string             `yaml:"knowledge_base"`
	Strategy      string             `yaml:"conversation_strategy"`
	Opening       string             `yaml:"opening_message"`
	PageGreetings map[string]string  `yaml:"page_greetings"`
	Questions     SuggestedQuestions `yaml:"suggested_questions"`
	Fallback      FallbackReplies    `yaml:"fallback"`
	RateLimited   string             `yaml:"rate_limited"`
	ScoreNote     ScoreNote          `yaml:"score_note"`
}

// SuggestedQuestions are the quick replies offered under the transcript.
type SuggestedQuestions struct {
	Initial       []string `yaml:"initial"`
	AfterPrograms []string `yaml:"after_programs"`
	AfterPain     []string `yaml:"after_pain"`
}

// FallbackReplies are used when the model cannot answer.
type FallbackReplies struct {
	Programs string `yaml:"programs"`
	Pricing  string `yaml:"pricing"`
	Default  string `yaml:"default"`
}

// ScoreNote controls the hidden lead-score hint appended to user prompts.
type ScoreNote struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
}

// Load reads profile <name>.yaml from fsys. fsys must contain a profiles/ directory.
func Load(fsys fs.FS, name string) (*Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownProfile)
	}
	data, err := fs.ReadFile(fsys, path.Join("profiles", name+".yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
		}
		return nil, fmt.Errorf("persona: read profile %s: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona: parse profile %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadBuiltin loads one of the profiles compiled into the binary.
func LoadBuiltin(name string) (*Profile, error) {
	return Load(ProfilesFS, name)
}

// Builtin lists the names of the compiled-in profiles.
func Builtin() []string {
	entries, err := fs.ReadDir(ProfilesFS, "profiles")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if n, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the profile has every text the orchestrator may need.
func (p *Profile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, errors.New("system_prompt is required"))
	}
	if strings.TrimSpace(p.Fallback.Default) == "" {
		errs = append(errs, errors.New("fallback.default is required"))
	}
	if strings.TrimSpace(p.RateLimited) == "" {
		errs = append(errs, errors.New("rate_limited is required"))
	}
	if p.ScoreNote.Threshold < 0 {
		errs = append(errs, errors.New("score_note.threshold must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("persona: invalid profile %s: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

// SystemInstruction joins the prompt, knowledge base and strategy.
func (p *Profile) SystemInstruction() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.SystemPrompt, p.KnowledgeBase, p.Strategy} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Greeting returns the welcome text for a page, falling back to the home
// greeting and then to the opening message.
func (p *Profile) Greeting(page string) string {
	if g := strings.TrimSpace(p.PageGreetings[page]); g != "" {
		return g
	}
	if g := strings.TrimSpace(p.PageGreetings["home"]); g != "" {
		return g
	}
	return strings.TrimSpace(p.Opening)
}

// Welcome is the first assistant message of a new conversation: the opening
// followed by the page greeting.
func (p *Profile) Welcome(page string) string {
	opening := strings.TrimSpace(p.Opening)
	greeting := p.Greeting(page)
	if opening == "" || greeting == opening {
		return greeting
	}
	return opening + "\n\n" + greeting
}

// FallbackFor picks a canned reply by keyword: programs, then pricing, then default.
func (p *Profile) FallbackFor(userText string) string {
	lower := strings.ToLower(userText)
	switch {
	case strings.Contains(lower, "program") && p.Fallback.Programs != "":
		return strings.TrimSpace(p.Fallback.Programs)
	case (strings.Contains(lower, "price") || strings.Contains(lower, "cost")) && p.Fallback.Pricing != "":
		return strings.TrimSpace(p.Fallback.Pricing)
	default:
		return strings.TrimSpace(p.Fallback.Default)
	}
}

// NoteFor returns the hidden lead-score note for score, or "" when the
// profile does not use one or the score is not above the threshold.
func (p *Profile) NoteFor(score scoring.LeadScore) string {
	if !p.ScoreNote.Enabled || score.Total <= p.ScoreNote.Threshold {
		return ""
	}
	return fmt.Sprintf("[SYSTEM NOTE: LEAD SCORE %d (High). URGENCY: %d. FIT: %d. PRIME DIRECTIVE: PIVOT TO BOOKING NOW.]",
		score.Total, score.Urgency, score.Fit)
}
