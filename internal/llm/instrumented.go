package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/movement-intake/internal/observability/metrics"
)

var tracer = otel.Tracer("movement-intake.internal.llm")

// InstrumentedClient bounds each call with a timeout and records a span
// and a latency sample.
type InstrumentedClient struct {
	next    Client
	name    string
	timeout time.Duration
	metrics *metrics.IntakeMetrics
	tracer  trace.Tracer
}

// Instrument wraps next. A zero timeout leaves the caller's deadline alone.
func Instrument(next Client, name string, timeout time.Duration, m *metrics.IntakeMetrics) *InstrumentedClient {
	if next == nil {
		panic("llm: client cannot be nil")
	}
	return &InstrumentedClient{next: next, name: name, timeout: timeout, metrics: m, tracer: tracer}
}

func (c *InstrumentedClient) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", c.name),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = &Error{Kind: KindTimeout, Provider: c.name, Err: err}
		}
		kind := KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		c.metrics.ObserveModelLatency(string(kind), elapsed)
		return Response{}, err
	}

	span.SetAttributes(attribute.Int("llm.output_tokens", int(resp.Usage.OutputTokens)))
	c.metrics.ObserveModelLatency("ok", elapsed)
	return resp, nil
}
