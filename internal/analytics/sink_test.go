package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/movement-intake/internal/observability/metrics"
	"github.com/wolfman30/movement-intake/pkg/logging"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Emit(_ context.Context, event string, _ map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestLogSinkWritesJSONRecord(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewWithWriter(&buf, "info"))

	sink.Emit(context.Background(), EventMessageSent, map[string]any{"message_role": "user"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(line["msg"].(string)), &rec))
	assert.Equal(t, EventMessageSent, rec.Event)
	assert.Equal(t, "user", rec.Properties["message_role"])
}

func TestMultiIsolatesPanickingSink(t *testing.T) {
	rec := &recordingSink{}
	boom := SinkFunc(func(context.Context, string, map[string]any) { panic("sink down") })
	m := NewMulti(logging.Discard(), boom, nil, rec)

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventWidgetOpened, nil)
	})
	assert.Equal(t, []string{EventWidgetOpened}, rec.names())
}

func TestMetricsSinkCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewMetricsSink(metrics.NewIntakeMetrics(reg))
	sink.Emit(context.Background(), EventBookingSuggested, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "intake_widget_analytics_events_total" {
			found = true
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	rec := &recordingSink{}
	a := NewAsync(rec, 16, logging.Discard())

	a.Emit(context.Background(), EventMessageSent, nil)
	a.Emit(context.Background(), EventBookingSuggested, nil)
	a.Close()

	assert.Equal(t, []string{EventMessageSent, EventBookingSuggested}, rec.names())

	// emitting after close is a silent no-op
	assert.NotPanics(t, func() { a.Emit(context.Background(), EventMessageSent, nil) })
	a.Close()
}

func TestAsyncDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocking := SinkFunc(func(context.Context, string, map[string]any) { <-release })
	a := NewAsync(blocking, 1, logging.Discard())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Emit(context.Background(), EventMessageSent, nil)
		}
		close(done)
	}()
	<-done // never blocks even though the worker is stuck

	close(release)
	a.Close()
}
