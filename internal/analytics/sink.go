// Package analytics carries fire-and-forget widget events. Sinks never return
// errors and never panic into the caller.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

// Event names emitted by sessions and the orchestrator.
const (
	EventMessageSent           = "ai_message_sent"
	EventWidgetOpened          = "ai_widget_opened"
	EventBookingSuggested      = "ai_booking_suggested"
	EventConversationCompleted = "ai_conversation_completed"
)

// Sink receives analytics events.
type Sink interface {
	Emit(ctx context.Context, event string, props map[string]any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event string, props map[string]any)

func (f SinkFunc) Emit(ctx context.Context, event string, props map[string]any) {
	f(ctx, event, props)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, map[string]any) {}

// Record is the JSON line written by LogSink.
type Record struct {
	Time       string         `json:"time"`
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties,omitempty"`
}

// LogSink writes each event as a structured JSON line, for grep-friendly audits:
//
//	grep '"event":"ai_booking_suggested"' /var/log/intake.log
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event string, props map[string]any) {
	rec := Record{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Event:      event,
		Properties: props,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		s.logger.Debug("analytics: unencodable event", "event", event, "error", err)
		return
	}
	s.logger.Info(string(b))
}

// MetricsSink counts events by name.
type MetricsSink struct {
	metrics *metrics.IntakeMetrics
}

func NewMetricsSink(m *metrics.IntakeMetrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

func (s *MetricsSink) Emit(_ context.Context, event string, _ map[string]any) {
	s.metrics.ObserveEvent(event)
}

// Multi fans out to every sink. A panicking sink is isolated from the others
// and from the caller.
type Multi struct {
	sinks  []Sink
	logger *logging.Logger
}

func NewMulti(logger *logging.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = logging.Default()
	}
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Emit(ctx context.Context, event string, props map[string]any) {
	for _, s := range m.sinks {
		if s == nil {
			continue
		}
		emitSafely(ctx, s, event, props, m.logger)
	}
}

func emitSafely(ctx context.Context, s Sink, event string, props map[string]any, logger *logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("analytics: sink panicked", "event", event, "panic", r)
		}
	}()
	s.Emit(ctx, event, props)
}
