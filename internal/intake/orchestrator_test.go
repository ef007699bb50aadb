package intake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/movement-intake/internal/analytics"
	"github.com/wolfman30/movement-intake/internal/clock"
	"github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/leads"
	"github.com/wolfman30/movement-intake/internal/llm"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/internal/persona"
	"github.com/wolfman30/movement-intake/internal/session"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

var epoch = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func testProfile() *persona.Profile {
	return &persona.Profile{
		Name:          "test",
		AssistantName: "Coach",
		SystemPrompt:  "You are Coach.",
		KnowledgeBase: "Adults 40+.",
		Opening:       "Hi! I'm Coach.",
		PageGreetings: map[string]string{"programs": "Looking at programs?"},
		Questions: persona.SuggestedQuestions{
			Initial:       []string{"What programs do you offer?"},
			AfterPrograms: []string{"Which program fits me?"},
			AfterPain:     []string{"Can you help with back pain?"},
		},
		Fallback: persona.FallbackReplies{
			Programs: "programs fallback",
			Pricing:  "pricing fallback",
			Default:  "default fallback",
		},
		RateLimited: "We're busy, try again shortly.",
		ScoreNote:   persona.ScoreNote{Enabled: true, Threshold: 20},
	}
}

type scriptedModel struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (llm.Response, error)
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.reply == nil {
		return llm.Response{Text: "reply"}, nil
	}
	return m.reply(req)
}

func (m *scriptedModel) last() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func failWith(err error) func(llm.Request) (llm.Response, error) {
	return func(llm.Request) (llm.Response, error) { return llm.Response{}, err }
}

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingSink) Emit(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[event]++
}

func (c *countingSink) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[event]
}

type harness struct {
	model *scriptedModel
	orch  *Orchestrator
	clock *clock.Fake
	sink  *countingSink
	deps  session.Deps
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		model: &scriptedModel{},
		clock: clock.NewFake(epoch),
		sink:  &countingSink{},
	}
	h.deps = session.Deps{
		Store:     storage.NewMemoryStore(),
		Clock:     h.clock,
		Analytics: h.sink,
		Logger:    logging.Discard(),
	}
	if opts.Model == nil {
		opts.Model = h.model
	}
	if opts.Profile == nil {
		opts.Profile = testProfile()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	orch, err := New(opts)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) newSession(page session.PageContext) *session.Session {
	return session.Create(context.Background(), "visitor-1", session.Metadata{PageContext: page}, h.deps)
}

func TestNewRequiresModelAndProfile(t *testing.T) {
	_, err := New(Options{Profile: testProfile()})
	assert.Error(t, err)
	_, err = New(Options{Model: &scriptedModel{}})
	assert.Error(t, err)

	bad := config.DefaultIntake()
	bad.MaxMessages = 0
	_, err = New(Options{Model: &scriptedModel{}, Profile: testProfile(), Settings: bad})
	assert.ErrorContains(t, err, "max messages")
}

func TestGreetOnlyOnEmptyTranscript(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PagePrograms)

	greeted, err := h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)
	assert.True(t, greeted)
	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Hi! I'm Coach.\n\nLooking at programs?", msgs[0].Content)

	greeted, err = h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)
	assert.False(t, greeted)
	assert.Equal(t, 1, sess.MessageCount())
}

func TestHandleUserTurnReplies(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.reply = func(llm.Request) (llm.Response, error) {
		return llm.Response{Text: "  Sorry to hear about your back.  "}, nil
	}
	sess := h.newSession(session.PagePrograms)
	_, err := h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)

	raw := "I have chronic back pain and I'm 52"
	turn, err := h.orch.HandleUserTurn(context.Background(), sess, raw)
	require.NoError(t, err)

	assert.Equal(t, OutcomeReplied, turn.Outcome)
	assert.Equal(t, "Sorry to hear about your back.", turn.Reply.Content)
	assert.Equal(t, raw, turn.User.Content)
	assert.Equal(t, sess.ID(), turn.SessionID)
	assert.Equal(t, []string{"Can you help with back pain?"}, turn.SuggestedQuestions)
	assert.True(t, turn.Analysis.MentionedPain)
	assert.True(t, turn.Analysis.MentionedAge)
	assert.Equal(t, session.PhaseListen, turn.Phase)

	msgs := sess.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, raw, msgs[1].Content)

	req := h.model.last()
	assert.Equal(t, []string{h.orch.Profile().SystemInstruction()}, req.System)
	require.Len(t, req.Messages, 1, "the greeting is not sent as history")
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, "[User is on the programs page]\n\n"+raw))
	assert.Equal(t, int32(defaultMaxTokens), req.MaxTokens)
}

func TestPageHintOnlyOnFirstTurn(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageContact)

	_, err := h.orch.HandleUserTurn(context.Background(), sess, "hello")
	require.NoError(t, err)
	_, err = h.orch.HandleUserTurn(context.Background(), sess, "tell me more")
	require.NoError(t, err)

	req := h.model.last()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "hello", req.Messages[0].Content)
	assert.Equal(t, llm.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "tell me more", req.Messages[2].Content)
}

func TestScoreNoteAppendedToPromptOnly(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageHome)

	raw := "My knee hurts, I'm 52, what's the price?"
	_, err := h.orch.HandleUserTurn(context.Background(), sess, raw)
	require.NoError(t, err)

	prompt := h.model.last().Messages[0].Content
	assert.Contains(t, prompt, "\n[SYSTEM NOTE: LEAD SCORE 30 (High). URGENCY: 10. FIT: 10.")
	assert.Equal(t, raw, sess.Messages()[0].Content)
}

func TestRateLimitedTurnAddsExactlyTwoMessages(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.reply = failWith(&llm.Error{Kind: llm.KindRateLimited, Provider: "gemini", Err: errors.New("429")})
	sess := h.newSession(session.PageHome)
	_, err := h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)
	before := sess.MessageCount()

	turn, err := h.orch.HandleUserTurn(context.Background(), sess, "what programs do you have?")
	require.NoError(t, err)

	assert.Equal(t, OutcomeRateLimited, turn.Outcome)
	assert.Equal(t, llm.KindRateLimited, turn.ErrorKind)
	assert.Equal(t, before+2, sess.MessageCount())
	msgs := sess.Messages()
	assert.Equal(t, session.RoleAssistant, msgs[len(msgs)-1].Role)
	assert.Equal(t, "We're busy, try again shortly.", msgs[len(msgs)-1].Content)
	assert.Len(t, h.model.requests, 1, "rate limits are not retried")
}

func TestFallbackReplies(t *testing.T) {
	tests := []struct {
		name string
		err  error
		text string
		want string
	}{
		{"programs", errors.New("boom"), "Which PROGRAM is best?", "programs fallback"},
		{"pricing", &llm.Error{Kind: llm.KindUnavailable, Err: errors.New("503")}, "how much does it cost", "pricing fallback"},
		{"timeout", &llm.Error{Kind: llm.KindTimeout, Err: context.DeadlineExceeded}, "hello there", "default fallback"},
		{"network", &llm.Error{Kind: llm.KindNetwork, Err: errors.New("refused")}, "price?", "pricing fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.model.reply = failWith(tt.err)
			sess := h.newSession(session.PageHome)

			turn, err := h.orch.HandleUserTurn(context.Background(), sess, tt.text)
			require.NoError(t, err)
			assert.Equal(t, OutcomeFallback, turn.Outcome)
			assert.Equal(t, tt.want, turn.Reply.Content)
			assert.Equal(t, 2, sess.MessageCount())
		})
	}
}

func TestEmptyModelReplyFallsBack(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.reply = func(llm.Request) (llm.Response, error) { return llm.Response{Text: "   "}, nil }
	sess := h.newSession(session.PageHome)

	turn, err := h.orch.HandleUserTurn(context.Background(), sess, "hi")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, turn.Outcome)
	assert.Equal(t, "default fallback", turn.Reply.Content)
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageHome)

	_, err := h.orch.HandleUserTurn(context.Background(), sess, " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, sess.MessageCount())
	assert.Empty(t, h.model.requests)
}

func TestConcurrentTurnRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, Options{})
	h.model.reply = func(llm.Request) (llm.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return llm.Response{Text: "done"}, nil
	}
	sess := h.newSession(session.PageHome)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.orch.HandleUserTurn(context.Background(), sess, "first")
		errCh <- err
	}()
	<-started

	assert.Equal(t, StateAwaitingModel, h.orch.State("visitor-1"))
	_, err := h.orch.HandleUserTurn(context.Background(), sess, "second")
	assert.ErrorIs(t, err, ErrTurnInProgress)

	other := session.Create(context.Background(), "visitor-2", session.Metadata{}, h.deps)
	assert.Equal(t, StateIdle, h.orch.State(other.VisitorID()))

	close(release)
	require.NoError(t, <-errCh)
	assert.Equal(t, StateIdle, h.orch.State("visitor-1"))

	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "done", msgs[1].Content)
}

func TestStateTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(_ string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(from)+">"+string(to))
	}

	h := newHarness(t, Options{OnTransition: record})
	sess := h.newSession(session.PageHome)
	_, err := h.orch.HandleUserTurn(context.Background(), sess, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"idle>awaiting_model", "awaiting_model>idle"}, seen)

	seen = nil
	h.model.reply = failWith(errors.New("boom"))
	_, err = h.orch.HandleUserTurn(context.Background(), sess, "hi again")
	require.NoError(t, err)
	assert.Equal(t, []string{"idle>awaiting_model", "awaiting_model>error", "error>idle"}, seen)
}

func TestHistoryBoundedByMaxMessages(t *testing.T) {
	settings := config.DefaultIntake()
	settings.MaxMessages = 4
	h := newHarness(t, Options{Settings: settings})
	sess := h.newSession(session.PageHome)
	_, err := h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)

	for _, text := range []string{"first", "second", "third", "fourth"} {
		_, err := h.orch.HandleUserTurn(context.Background(), sess, text)
		require.NoError(t, err)
	}

	req := h.model.last()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "third", req.Messages[0].Content)
	assert.Equal(t, "fourth", req.Messages[2].Content)
	assert.Equal(t, 9, sess.MessageCount(), "the stored transcript is not trimmed")
}

func TestBookingSuggestedEmittedOnFlip(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageHome)

	var turns []Turn
	for i := 0; i < 4; i++ {
		turn, err := h.orch.HandleUserTurn(context.Background(), sess, "I'd like to schedule a session")
		require.NoError(t, err)
		turns = append(turns, turn)
	}

	assert.False(t, turns[1].SuggestBooking)
	assert.True(t, turns[2].SuggestBooking)
	assert.True(t, turns[3].SuggestBooking)
	assert.Equal(t, 1, h.sink.count(analytics.EventBookingSuggested))
	assert.Equal(t, 8, h.sink.count(analytics.EventMessageSent))
}

func TestExpiredSessionRefused(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageHome)
	h.clock.Advance(25 * time.Hour)

	_, err := h.orch.HandleUserTurn(context.Background(), sess, "still there?")
	assert.ErrorIs(t, err, session.ErrExpired)
	assert.Equal(t, StateIdle, h.orch.State("visitor-1"))
	assert.Empty(t, h.model.requests)
}

func TestReplyAppliedAfterCallerCancels(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.reply = func(llm.Request) (llm.Response, error) { return llm.Response{Text: "late reply"}, nil }
	ctx, cancel := context.WithCancel(context.Background())
	sess := h.newSession(session.PageHome)
	var seenErr error
	model := llm.ClientFunc(func(callCtx context.Context, req llm.Request) (llm.Response, error) {
		cancel()
		seenErr = callCtx.Err()
		return h.model.Complete(callCtx, req)
	})
	orch, err := New(Options{Model: model, Profile: testProfile(), Logger: logging.Discard()})
	require.NoError(t, err)

	turn, err := orch.HandleUserTurn(ctx, sess, "hello")
	require.NoError(t, err)
	assert.NoError(t, seenErr)
	assert.Equal(t, "late reply", turn.Reply.Content)
	assert.Equal(t, 2, sess.MessageCount())
}

func TestSessionExpiringDuringModelCallFailsTurn(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PageHome)
	h.clock.Advance(23 * time.Hour)
	h.model.reply = func(llm.Request) (llm.Response, error) {
		h.clock.Advance(2 * time.Hour)
		return llm.Response{Text: "too late"}, nil
	}

	turn, err := h.orch.HandleUserTurn(context.Background(), sess, "are you there?")
	require.ErrorIs(t, err, session.ErrExpired)
	assert.Empty(t, turn.Reply.Content)
	assert.Equal(t, StateIdle, h.orch.State("visitor-1"))

	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
}

func TestHandleVisitorTurnLoadsUnderGuard(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, Options{})
	h.model.reply = func(llm.Request) (llm.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return llm.Response{Text: "done"}, nil
	}

	var mu sync.Mutex
	loads := 0
	load := func(ctx context.Context) *session.Session {
		mu.Lock()
		loads++
		mu.Unlock()
		return session.LoadOrCreate(ctx, "visitor-1", session.Metadata{}, h.deps)
	}
	loadCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return loads
	}

	errCh := make(chan error, 1)
	go func() {
		_, _, err := h.orch.HandleVisitorTurn(context.Background(), "visitor-1", "first", load)
		errCh <- err
	}()
	<-started
	require.Equal(t, 1, loadCount())

	_, sess, err := h.orch.HandleVisitorTurn(context.Background(), "visitor-1", "second", load)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Nil(t, sess)
	assert.Equal(t, 1, loadCount())

	_, _, err = h.orch.HandleVisitorTurn(context.Background(), "visitor-1", "  ", load)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 1, loadCount())

	close(release)
	require.NoError(t, <-errCh)

	h.model.reply = nil
	turn, sess, err := h.orch.HandleVisitorTurn(context.Background(), "visitor-1", "third", load)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "reply", turn.Reply.Content)
	assert.Equal(t, 2, loadCount())

	var contents []string
	for _, m := range sess.Messages() {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "done", "third", "reply"}, contents)
}

type recordingCapturer struct {
	observations []leads.Observation
	err          error
}

func (r *recordingCapturer) Capture(_ context.Context, obs leads.Observation) (*leads.Lead, error) {
	r.observations = append(r.observations, obs)
	if r.err != nil {
		return nil, r.err
	}
	return &leads.Lead{SessionID: obs.SessionID, Score: obs.Score.Total}, nil
}

func TestLeadCaptureAfterEachTurn(t *testing.T) {
	capturer := &recordingCapturer{}
	h := newHarness(t, Options{Leads: capturer})
	sess := h.newSession(session.PagePrograms)

	turn, err := h.orch.HandleUserTurn(context.Background(), sess, "my back hurts, email me at pat@example.com")
	require.NoError(t, err)
	require.Len(t, capturer.observations, 1)
	obs := capturer.observations[0]
	assert.Equal(t, sess.ID(), obs.SessionID)
	assert.Equal(t, "visitor-1", obs.VisitorID)
	assert.Equal(t, "programs", obs.PageContext)
	assert.Equal(t, 10, obs.Score.Urgency)
	require.NotNil(t, turn.Lead)

	capturer.err = errors.New("db down")
	turn, err = h.orch.HandleUserTurn(context.Background(), sess, "thanks")
	require.NoError(t, err)
	assert.Nil(t, turn.Lead)
}

func TestTurnMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, Options{Metrics: metrics.NewIntakeMetrics(reg)})
	sess := h.newSession(session.PageHome)

	_, err := h.orch.HandleUserTurn(context.Background(), sess, "hello")
	require.NoError(t, err)
	_, err = h.orch.HandleUserTurn(context.Background(), sess, "")
	require.ErrorIs(t, err, ErrEmptyMessage)

	n, err := testutil.GatherAndCount(reg, "intake_conversation_turns_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "intake_conversation_lead_score")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSuggestedQuestions(t *testing.T) {
	orch, err := New(Options{Model: &scriptedModel{}, Profile: testProfile(), Logger: logging.Discard()})
	require.NoError(t, err)

	assert.Equal(t, []string{"What programs do you offer?"}, orch.SuggestedQuestions(session.Analysis{}))
	assert.Equal(t, []string{"Can you help with back pain?"},
		orch.SuggestedQuestions(session.Analysis{MessageCount: 2, UserMessageCount: 1, MentionedPain: true, AskedAboutPrograms: true}))
	assert.Equal(t, []string{"Which program fits me?"},
		orch.SuggestedQuestions(session.Analysis{MessageCount: 2, UserMessageCount: 1, AskedAboutPrograms: true}))
	assert.Nil(t, orch.SuggestedQuestions(session.Analysis{MessageCount: 4, UserMessageCount: 2}))
	assert.Equal(t, []string{"What programs do you offer?"}, orch.SuggestedQuestions(session.Analysis{MessageCount: 1}))

	got := orch.SuggestedQuestions(session.Analysis{})
	got[0] = "mutated"
	assert.Equal(t, "What programs do you offer?", orch.Profile().Questions.Initial[0])
}

func TestView(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.newSession(session.PagePrograms)
	_, err := h.orch.Greet(context.Background(), sess)
	require.NoError(t, err)

	v := h.orch.View(sess)
	assert.Equal(t, sess.ID(), v.SessionID)
	assert.Equal(t, "listen", v.PhaseName)
	assert.Equal(t, "programs", v.PageContext)
	assert.Len(t, v.Messages, 1)
	assert.Equal(t, []string{"What programs do you offer?"}, v.SuggestedQuestions)
	assert.False(t, v.SuggestBooking)
}
