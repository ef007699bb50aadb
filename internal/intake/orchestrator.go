// Package intake sequences a visitor's chat turn: record the message, score
// the conversation, ask the model, and fall back to canned replies when the
// model cannot answer.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

var (
	// ErrEmptyMessage rejects blank input before anything is recorded.
	ErrEmptyMessage = errors.New("intake: message is empty")
	// ErrTurnInProgress rejects a turn while the visitor's previous turn is
	// still waiting on the model.
	ErrTurnInProgress = errors.New("intake: a turn is already awaiting the model")
)

// State is the per-visitor turn state.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateError         State = "error"
)

// Outcome says how the assistant reply for a turn was produced.
type Outcome string

const (
	OutcomeReplied     Outcome = "replied"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFallback    Outcome = "fallback"
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// LeadCapturer records contact details seen during a turn.
type LeadCapturer interface {
	Capture(ctx context.Context, obs leads.Observation) (*leads.Lead, error)
}

// Options wires an Orchestrator. Model and Profile are required.
type Options struct {
	Model        llm.Client
	Profile      *persona.Profile
	Settings     config.Intake
	Logger       *logging.Logger
	Metrics      *metrics.IntakeMetrics
	Leads        LeadCapturer
	MaxTokens    int32
	Temperature  float32
	// OnTransition, when set, is called on every state change of a visitor's turn.
	OnTransition func(visitorID string, from, to State)
}

// Turn is the result of one handled user message.
type Turn struct {
	SessionID          string           `json:"session_id"`
	User               session.Message  `json:"user"`
	Reply              session.Message  `json:"reply"`
	Outcome            Outcome          `json:"outcome"`
	ErrorKind          llm.Kind         `json:"error_kind,omitempty"`
	SuggestedQuestions []string         `json:"suggested_questions"`
	SuggestBooking     bool             `json:"suggest_booking"`
	Phase              session.Phase    `json:"phase"`
	Analysis           session.Analysis `json:"analysis"`
	Lead               *leads.Lead      `json:"-"`
}

// Orchestrator runs user turns against the model. It is safe for concurrent
// use; turns for different visitors run independently.
type Orchestrator struct {
	model        llm.Client
	profile      *persona.Profile
	settings     config.Intake
	logger       *logging.Logger
	metrics      *metrics.IntakeMetrics
	leads        LeadCapturer
	maxTokens    int32
	temperature  float32
	onTransition func(visitorID string, from, to State)

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Model == nil {
		return nil, errors.New("intake: model client is required")
	}
	if opts.Profile == nil {
		return nil, errors.New("intake: persona profile is required")
	}
	if opts.Settings == (config.Intake{}) {
		opts.Settings = config.DefaultIntake()
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	return &Orchestrator{
		model:        opts.Model,
		profile:      opts.Profile,
		settings:     opts.Settings,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		leads:        opts.Leads,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		onTransition: opts.OnTransition,
		inFlight:     make(map[string]struct{}),
	}, nil
}

// Profile returns the persona the orchestrator speaks with.
func (o *Orchestrator) Profile() *persona.Profile { return o.profile }

// State reports whether the visitor has a turn waiting on the model.
func (o *Orchestrator) State(visitorID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[visitorID]; busy {
		return StateAwaitingModel
	}
	return StateIdle
}

// Greet records the welcome message on an empty transcript. Restored
// conversations are left alone.
func (o *Orchestrator) Greet(ctx context.Context, sess *session.Session) (bool, error) {
	if sess.MessageCount() > 0 {
		return false, nil
	}
	welcome := o.profile.Welcome(string(sess.Metadata().PageContext))
	if welcome == "" {
		return false, nil
	}
	if _, err := sess.AddMessage(ctx, session.RoleAssistant, welcome); err != nil {
		return false, fmt.Errorf("intake: greet: %w", err)
	}
	return true, nil
}

// HandleUserTurn records rawText, asks the model and records the reply. A
// model failure never surfaces as an error: the visitor gets the rate-limit
// text or a keyword fallback, and that reply is recorded like any other.
func (o *Orchestrator) HandleUserTurn(ctx context.Context, sess *session.Session, rawText string) (Turn, error) {
	turn, _, err := o.run(ctx, sess.VisitorID(), rawText, func(context.Context) *session.Session { return sess })
	return turn, err
}

// HandleVisitorTurn is HandleUserTurn for callers that resolve the session
// themselves. load runs only once the visitor's turn slot is held, so it sees
// everything the previous turn persisted. The loaded session is returned
// alongside the turn.
func (o *Orchestrator) HandleVisitorTurn(ctx context.Context, visitorID, rawText string, load func(context.Context) *session.Session) (Turn, *session.Session, error) {
	return o.run(ctx, visitorID, rawText, load)
}

func (o *Orchestrator) run(ctx context.Context, visitor, rawText string, load func(context.Context) *session.Session) (Turn, *session.Session, error) {
	if strings.TrimSpace(rawText) == "" {
		o.metrics.ObserveTurn("rejected_empty")
		return Turn{}, nil, ErrEmptyMessage
	}
	if !o.begin(visitor) {
		o.metrics.ObserveTurn("rejected_busy")
		return Turn{}, nil, ErrTurnInProgress
	}
	state := StateIdle
	defer func() { o.end(visitor, state) }()

	sess := load(ctx)
	turn, err := o.handle(ctx, sess, visitor, rawText, &state)
	return turn, sess, err
}

func (o *Orchestrator) handle(ctx context.Context, sess *session.Session, visitor, rawText string, state *State) (Turn, error) {
	logger := o.logger.WithSession(sess.ID())
	before := sess.Analyze()
	wasSuggesting := session.SuggestBooking(before, o.settings.BookingThreshold)
	history := o.history(sess.Messages())

	userMsg, err := sess.AddMessage(ctx, session.RoleUser, rawText)
	if err != nil {
		return Turn{}, fmt.Errorf("intake: record user message: %w", err)
	}

	scored := sess.Analyze()
	prompt := o.prompt(rawText, sess.Metadata().PageContext, before.UserMessageCount == 0, scored)

	*state = o.transition(visitor, *state, StateAwaitingModel)
	// The reply is applied even if the visitor goes away mid-call; the
	// model client bounds the call with its own timeout.
	resp, err := o.model.Complete(context.WithoutCancel(ctx), llm.Request{
		System:      []string{o.profile.SystemInstruction()},
		Messages:    append(history, llm.Message{Role: llm.RoleUser, Content: prompt}),
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = errors.New("intake: model returned an empty reply")
	}

	turn := Turn{SessionID: sess.ID(), User: userMsg, Outcome: OutcomeReplied}
	reply := strings.TrimSpace(resp.Text)
	if err != nil {
		*state = o.transition(visitor, *state, StateError)
		turn.ErrorKind = llm.KindOf(err)
		if turn.ErrorKind == llm.KindRateLimited {
			turn.Outcome = OutcomeRateLimited
			reply = strings.TrimSpace(o.profile.RateLimited)
		} else {
			turn.Outcome = OutcomeFallback
			reply = o.profile.FallbackFor(rawText)
		}
		logger.Warn("model call failed, replying with canned text",
			"kind", string(turn.ErrorKind),
			"outcome", string(turn.Outcome),
			"error", err.Error(),
		)
	}

	// A session that expired mid-call refuses the reply, so the turn fails.
	turn.Reply, err = sess.AddMessage(ctx, session.RoleAssistant, reply)
	if err != nil {
		o.metrics.ObserveTurn("rejected_expired")
		logger.Warn("failed to record assistant reply", "error", err)
		return Turn{}, fmt.Errorf("intake: record reply: %w", err)
	}

	after := sess.Analyze()
	turn.Phase = sess.Phase()
	turn.Analysis = after
	turn.SuggestedQuestions = o.SuggestedQuestions(after)
	turn.SuggestBooking = session.SuggestBooking(after, o.settings.BookingThreshold)
	if turn.SuggestBooking && !wasSuggesting {
		sess.TrackBookingSuggested(ctx)
	}

	if o.leads != nil {
		lead, err := o.leads.Capture(ctx, leads.Observation{
			SessionID:   sess.ID(),
			VisitorID:   visitor,
			Message:     rawText,
			PageContext: string(sess.Metadata().PageContext),
			Score:       after.LeadScore,
		})
		if err != nil {
			logger.Warn("lead capture failed", "error", err)
		}
		turn.Lead = lead
	}

	o.metrics.ObserveTurn(string(turn.Outcome))
	o.metrics.ObserveLeadScore(after.LeadScore.Total)
	logger.Debug("turn handled",
		"outcome", string(turn.Outcome),
		"phase", turn.Phase.String(),
		"lead_score", after.LeadScore.Total,
		"suggest_booking", turn.SuggestBooking,
	)
	return turn, nil
}

// SuggestedQuestions picks the quick replies for the current analysis. An
// empty conversation gets the initial set; pain beats programs; otherwise
// suggestions are hidden. A transcript holding only the welcome message
// still counts as empty.
func (o *Orchestrator) SuggestedQuestions(a session.Analysis) []string {
	q := o.profile.Questions
	switch {
	case a.UserMessageCount == 0:
		return clone(q.Initial)
	case a.MentionedPain:
		return clone(q.AfterPain)
	case a.AskedAboutPrograms:
		return clone(q.AfterPrograms)
	default:
		return nil
	}
}

// history converts the stored transcript into model history: at most
// MaxMessages-1 entries so the new prompt fits the bound, starting at a
// user message.
func (o *Orchestrator) history(msgs []session.Message) []llm.Message {
	if limit := o.settings.MaxMessages - 1; len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Role != session.RoleUser {
		msgs = msgs[1:]
	}
	out := make([]llm.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// prompt adds the page hint on the first turn and the profile's lead score
// note. The stored user message is never augmented.
func (o *Orchestrator) prompt(raw string, page session.PageContext, firstTurn bool, a session.Analysis) string {
	var b strings.Builder
	if firstTurn {
		fmt.Fprintf(&b, "[User is on the %s page]\n\n", page)
	}
	b.WriteString(raw)
	if note := o.profile.NoteFor(a.LeadScore); note != "" {
		b.WriteString("\n")
		b.WriteString(note)
	}
	return b.String()
}

func (o *Orchestrator) begin(visitorID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[visitorID]; busy {
		return false
	}
	o.inFlight[visitorID] = struct{}{}
	return true
}

func (o *Orchestrator) end(visitorID string, from State) {
	o.mu.Lock()
	delete(o.inFlight, visitorID)
	o.mu.Unlock()
	o.transition(visitorID, from, StateIdle)
}

func (o *Orchestrator) transition(visitorID string, from, to State) State {
	if o.onTransition != nil && from != to {
		o.onTransition(visitorID, from, to)
	}
	return to
}

func clone(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	return append([]string(nil), in...)
}
