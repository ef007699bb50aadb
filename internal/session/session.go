// Package session owns one visitor's conversation: the append-only transcript,
// its identity and expiry, the derived phase, conversation analysis, and the
// booking-suggestion decision. Storage failures never escape this package; a
// session whose store is down keeps working in memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/movement-intake/internal/analytics"
	"github.com/wolfman30/movement-intake/internal/clock"
	"github.com/wolfman30/movement-intake/internal/config"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/internal/scoring"
	"github.com/wolfman30/movement-intake/internal/storage"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

// Deps are the collaborators a session needs. Zero values fall back to
// in-memory storage, the system clock, no analytics and default tuning.
type Deps struct {
	Store     storage.Store
	Clock     clock.Clock
	Analytics analytics.Sink
	Scorer    *scoring.Scorer
	Settings  config.Intake
	Logger    *logging.Logger
	Metrics   *metrics.IntakeMetrics
}

func (d Deps) withDefaults() Deps {
	if d.Store == nil {
		d.Store = storage.NewMemoryStore()
	}
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Analytics == nil {
		d.Analytics = analytics.Nop{}
	}
	if d.Settings == (config.Intake{}) {
		d.Settings = config.DefaultIntake()
	}
	if d.Scorer == nil {
		w := d.Settings.Weights
		d.Scorer = scoring.NewScorer(scoring.Weights{
			Urgency:    w.Urgency,
			Fit:        w.Fit,
			Readiness:  w.Readiness,
			Engagement: w.Engagement,
		})
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return d
}

// Session is one visitor's conversation.
type Session struct {
	deps    Deps
	keys    Keys
	visitor string

	mu        sync.RWMutex
	id        string
	messages  []Message
	startedAt time.Time
	metadata  Metadata
	logger    *logging.Logger
}

// NewID returns a session id made of a millisecond time prefix and a random suffix.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), suffix)
}

// Create starts a fresh session for the visitor and persists it.
func Create(ctx context.Context, visitorID string, meta Metadata, deps Deps) *Session {
	deps = deps.withDefaults()
	now := deps.Clock.Now()
	s := &Session{
		deps:      deps,
		keys:      KeysFor(visitorID),
		visitor:   visitorID,
		id:        NewID(now),
		startedAt: now,
		metadata:  meta.merge(Metadata{PageContext: PageHome}),
	}
	s.logger = deps.Logger.WithSession(s.id)

	s.deps.removeQuietly(ctx, s.logger, s.keys.Conversation)
	s.persistMarker(ctx)
	s.persist(ctx)
	return s
}

// LoadOrCreate restores the visitor's live session from storage, or starts a
// new one when nothing usable is stored or the stored one has expired.
// Corrupt or unreadable state is treated as absent.
func LoadOrCreate(ctx context.Context, visitorID string, meta Metadata, deps Deps) *Session {
	deps = deps.withDefaults()
	keys := KeysFor(visitorID)
	now := deps.Clock.Now()

	rawMarker, err := deps.Store.Get(ctx, keys.Marker)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			deps.persistFailed("load_marker", err, deps.Logger)
		}
		return Create(ctx, visitorID, meta, deps)
	}
	mk, err := decodeMarker(rawMarker)
	if err != nil {
		deps.Logger.Warn("session: discarding unreadable marker", "visitor_id", visitorID, "error", err)
		return Create(ctx, visitorID, meta, deps)
	}
	if expired(mk.StartedAt, now, deps.Settings.SessionExpiry) {
		deps.Logger.Info("session: stored session expired", "session_id", mk.ID, "started_at", mk.StartedAt)
		return Create(ctx, visitorID, meta, deps)
	}

	s := &Session{
		deps:      deps,
		keys:      keys,
		visitor:   visitorID,
		id:        mk.ID,
		startedAt: mk.StartedAt,
		metadata:  meta.merge(Metadata{PageContext: PageHome}),
		logger:    deps.Logger.WithSession(mk.ID),
	}

	rawSnap, err := deps.Store.Get(ctx, keys.Conversation)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s
	case err != nil:
		deps.persistFailed("load_conversation", err, s.logger)
		return s
	}

	snap, err := DecodeSnapshot(rawSnap)
	if err != nil || snap.ID != mk.ID {
		s.logger.Warn("session: discarding unusable transcript", "error", err, "snapshot_id", snap.ID)
		return Create(ctx, visitorID, meta, deps)
	}

	s.messages = snap.Messages
	s.startedAt = snap.StartedAt
	s.metadata = snap.Metadata.merge(s.metadata)
	return s
}

// Lookup restores the visitor's live session without starting a new one.
// It reports false when nothing live is stored.
func Lookup(ctx context.Context, visitorID string, deps Deps) (*Session, bool) {
	deps = deps.withDefaults()
	raw, err := deps.Store.Get(ctx, KeysFor(visitorID).Marker)
	if err != nil {
		return nil, false
	}
	mk, err := decodeMarker(raw)
	if err != nil || expired(mk.StartedAt, deps.Clock.Now(), deps.Settings.SessionExpiry) {
		return nil, false
	}
	return LoadOrCreate(ctx, visitorID, Metadata{}, deps), true
}

// Restore rebuilds an in-memory session from a snapshot without touching storage.
func Restore(visitorID string, snap Snapshot, deps Deps) *Session {
	deps = deps.withDefaults()
	msgs := make([]Message, len(snap.Messages))
	copy(msgs, snap.Messages)
	return &Session{
		deps:      deps,
		keys:      KeysFor(visitorID),
		visitor:   visitorID,
		id:        snap.ID,
		messages:  msgs,
		startedAt: snap.StartedAt,
		metadata:  snap.Metadata.merge(Metadata{PageContext: PageHome}),
		logger:    deps.Logger.WithSession(snap.ID),
	}
}

// AddMessage appends a message stamped with the current time, persists the
// whole session and emits an analytics event. Timestamps never go backwards
// even if the clock does.
func (s *Session) AddMessage(ctx context.Context, role Role, content string) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("session: unknown role %q", role)
	}

	s.mu.Lock()
	now := s.deps.Clock.Now()
	if expired(s.startedAt, now, s.deps.Settings.SessionExpiry) {
		s.mu.Unlock()
		return Message{}, ErrExpired
	}
	if n := len(s.messages); n > 0 && now.Before(s.messages[n-1].Timestamp) {
		now = s.messages[n-1].Timestamp
	}
	msg := Message{Role: role, Content: content, Timestamp: now}
	s.messages = append(s.messages, msg)
	count := len(s.messages)
	phase := s.phaseLocked()
	id := s.id
	page := s.metadata.PageContext
	s.mu.Unlock()

	s.persist(ctx)

	s.emit(ctx, analytics.EventMessageSent, map[string]any{
		"message_role":       string(role),
		"message_count":      count,
		"session_id":         id,
		"conversation_phase": int(phase),
		"page_context":       string(page),
	})
	return msg, nil
}

// Clear discards the transcript and starts over under a new id. The empty
// state is written immediately so a reload sees it.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	now := s.deps.Clock.Now()
	s.messages = nil
	s.startedAt = now
	s.id = NewID(now)
	s.logger = s.deps.Logger.WithSession(s.id)
	s.mu.Unlock()

	s.deps.removeQuietly(ctx, s.logger, s.keys.Conversation)
	s.persistMarker(ctx)
	s.persist(ctx)
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// VisitorID returns the browser/device identity the session is stored under.
func (s *Session) VisitorID() string { return s.visitor }

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// LastActivityAt is the latest message time, or the start time when empty.
func (s *Session) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.messages); n > 0 {
		return s.messages[n-1].Timestamp
	}
	return s.startedAt
}

// Metadata returns the session metadata.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// Messages returns a copy of the transcript in insertion order.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount counts every message in the transcript.
func (s *Session) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// UserMessageCount counts visitor-authored messages.
func (s *Session) UserMessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userCountLocked()
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expired(s.startedAt, s.deps.Clock.Now(), s.deps.Settings.SessionExpiry)
}

// Duration is the whole seconds elapsed since the session started.
func (s *Session) Duration() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(s.deps.Clock.Now().Sub(s.startedAt) / time.Second)
}

// Phase derives the conversation stage from the message count.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phaseLocked()
}

// PhaseFor maps a message count onto a phase using the given thresholds.
func PhaseFor(count int, t config.PhaseThresholds) Phase {
	switch {
	case count <= t.ListenMax:
		return PhaseListen
	case count <= t.EducateMax:
		return PhaseEducate
	default:
		return PhaseAct
	}
}

// Snapshot captures the session for persistence or export.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) phaseLocked() Phase {
	return PhaseFor(len(s.messages), s.deps.Settings.Phases)
}

func (s *Session) userCountLocked() int {
	n := 0
	for _, m := range s.messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

func (s *Session) snapshotLocked() Snapshot {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:          s.id,
		Messages:    msgs,
		StartedAt:   s.startedAt,
		Metadata:    s.metadata,
		LastUpdated: s.deps.Clock.Now(),
	}
}

// persist writes the full snapshot in one Set so readers never see a partial
// transcript.
func (s *Session) persist(ctx context.Context) {
	s.mu.RLock()
	snap := s.snapshotLocked()
	logger := s.logger
	s.mu.RUnlock()

	data, err := EncodeSnapshot(snap)
	if err != nil {
		s.deps.persistFailed("encode", err, logger)
		return
	}
	if err := s.deps.Store.Set(ctx, s.keys.Conversation, data); err != nil {
		s.deps.persistFailed("save_conversation", err, logger)
	}
}

func (s *Session) persistMarker(ctx context.Context) {
	s.mu.RLock()
	mk := marker{ID: s.id, StartedAt: s.startedAt}
	logger := s.logger
	s.mu.RUnlock()

	data, err := encodeMarker(mk)
	if err != nil {
		s.deps.persistFailed("encode_marker", err, logger)
		return
	}
	if err := s.deps.Store.Set(ctx, s.keys.Marker, data); err != nil {
		s.deps.persistFailed("save_marker", err, logger)
	}
}

func (s *Session) emit(ctx context.Context, event string, props map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("session: analytics sink panicked", "event", event, "panic", r)
		}
	}()
	s.deps.Analytics.Emit(ctx, event, props)
}

func (d Deps) persistFailed(op string, err error, logger *logging.Logger) {
	logger.Warn("session: storage unavailable, continuing in memory", "op", op, "error", err)
	d.Metrics.ObservePersistFailure(op)
}

func (d Deps) removeQuietly(ctx context.Context, logger *logging.Logger, key string) {
	if err := d.Store.Remove(ctx, key); err != nil {
		d.persistFailed("remove", err, logger)
	}
}

// expired: a session is live only while its age is strictly below expiry.
func expired(startedAt, now time.Time, expiry time.Duration) bool {
	return now.Sub(startedAt) >= expiry
}
