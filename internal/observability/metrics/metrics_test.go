package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestIntakeMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIntakeMetrics(reg)
	m.ObserveEvent("ai_message_sent")
	m.ObserveEvent("ai_message_sent")
	m.ObserveTurn("ok")
	m.ObserveModelLatency("ok", 0.5)
	m.ObserveLeadScore(40)
	m.ObservePersistFailure("save")

	if got := counterValue(t, reg, "intake_widget_analytics_events_total", "event", "ai_message_sent"); got != 2 {
		t.Fatalf("expected 2 message events, got %v", got)
	}
	if got := counterValue(t, reg, "intake_conversation_turns_total", "outcome", "ok"); got != 1 {
		t.Fatalf("expected 1 ok turn, got %v", got)
	}
}

func TestIntakeMetricsNilSafe(t *testing.T) {
	var m *IntakeMetrics
	m.ObserveEvent("event")
	m.ObserveTurn("ok")
	m.ObserveModelLatency("ok", 0.1)
	m.ObserveLeadScore(10)
	m.ObservePersistFailure("load")
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
