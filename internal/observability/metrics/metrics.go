package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for widget conversations.
type IntakeMetrics struct {
	eventsTotal      *prometheus.CounterVec
	turnsTotal       *prometheus.CounterVec
	modelLatency     *prometheus.HistogramVec
	leadScore        prometheus.Histogram
	persistFailTotal *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "widget",
			Name:      "analytics_events_total",
			Help:      "Analytics events emitted by widget sessions",
		}, []string{"event"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "User turns handled, by outcome",
		}, []string{"outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "model_latency_seconds",
			Help:      "Latency of language model calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		leadScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "lead_score",
			Help:      "Lead score total after each user turn",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		persistFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "session",
			Name:      "persistence_failures_total",
			Help:      "Session storage operations that failed and were degraded to memory",
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.turnsTotal, m.modelLatency, m.leadScore, m.persistFailTotal)
	return m
}

func (m *IntakeMetrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

func (m *IntakeMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *IntakeMetrics) ObserveModelLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(status).Observe(seconds)
}

func (m *IntakeMetrics) ObserveLeadScore(total int) {
	if m == nil {
		return
	}
	m.leadScore.Observe(float64(total))
}

func (m *IntakeMetrics) ObservePersistFailure(op string) {
	if m == nil {
		return
	}
	m.persistFailTotal.WithLabelValues(op).Inc()
}
