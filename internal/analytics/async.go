package analytics

import (
	"context"
	"sync"

	"github.com/wolfman30/movement-intake/pkg/logging"
)

type queued struct {
	event string
	props map[string]any
}

// Async hands events to a background worker through a bounded buffer.
// When the buffer is full the event is dropped rather than blocking the turn.
type Async struct {
	next   Sink
	ch     chan queued
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the delivery worker. Close flushes what is buffered.
func NewAsync(next Sink, buffer int, logger *logging.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Async{
		next:   next,
		ch:     make(chan queued, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Emit(_ context.Context, event string, props map[string]any) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- queued{event: event, props: props}:
	default:
		a.logger.Debug("analytics: buffer full, dropping event", "event", event)
	}
}

// Close stops accepting events and waits for the worker to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.ch {
		// delivery is detached from the request that produced the event
		emitSafely(context.Background(), a.next, q.event, q.props, a.logger)
	}
}
