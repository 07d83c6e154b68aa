package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Emitter is what ledger services depend on.
type Emitter interface {
	Emit(event Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Dispatcher hands events to a Sink on a background worker. Emit never
// blocks: when the buffer is full the event is dropped with a warning.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

func NewDispatcher(sink Sink, buffer int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		logger:  logger.With("component", "audit"),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Emit(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("audit event after close dropped", "event_type", event.Kind, "transaction_id", event.TransactionID)
		return
	}
	select {
	case d.events <- event:
	default:
		d.logger.Warn("audit buffer full, event dropped", "event_type", event.Kind, "transaction_id", event.TransactionID)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.publish(event)
	}
}

func (d *Dispatcher) publish(event Event) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", "event_type", event.Kind, "transaction_id", event.TransactionID, "panic", r)
		}
	}()

	if err := d.sink.Publish(ctx, event); err != nil {
		d.logger.Error("audit publish failed", "event_type", event.Kind, "transaction_id", event.TransactionID, "error", err)
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
