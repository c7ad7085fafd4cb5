package trace

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// EventHandler is called when an event is recorded.
type EventHandler func(e Event)

type handlerEntry struct {
	handler EventHandler
	id      uint64
}

// Tracer creates trace contexts and fans recorded events out to handlers.
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	clock    clockz.Clock
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   atomic.Uint64
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock injects the clock used for start times and durations.
func WithClock(c clockz.Clock) Option {
	return func(t *Tracer) { t.clock = c }
}

// WithLogger sets the logger used to report panicking handlers.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) { t.logger = l }
}

// NewTracer creates a tracer using the real clock unless overridden.
func NewTracer(opts ...Option) *Tracer {
	t := &Tracer{clock: clockz.RealClock}
	for _, o := range opts {
		o(t)
	}

	if t.logger == nil {
		t.logger = slog.Default()
	}

	return t
}

// Now returns the tracer clock's current time.
func (t *Tracer) Now() time.Time { return t.clock.Now() }

// Since returns the time elapsed on the tracer's clock since start.
func (t *Tracer) Since(start time.Time) time.Duration { return t.clock.Since(start) }

// NewTrace starts a new transaction rooted at entryPoint.
func (t *Tracer) NewTrace(entryPoint string) *Context {
	return &Context{
		TransactionID: uuid.NewString(),
		SpanID:        uuid.NewString(),
		EntryPoint:    entryPoint,
		StartTime:     t.clock.Now(),
	}
}

// Child creates a context in parent's transaction. A nil parent starts a new trace.
func (t *Tracer) Child(parent *Context, entryPoint string) *Context {
	if parent == nil {
		return t.NewTrace(entryPoint)
	}

	return &Context{
		TransactionID: parent.TransactionID,
		SpanID:        uuid.NewString(),
		ParentSpanID:  parent.SpanID,
		EntryPoint:    entryPoint,
		StartTime:     t.clock.Now(),
	}
}

// Begin activates a new context on ctx's unit, binding a caller unit if needed.
// The new context is a child of the one already active, or a new trace.
// The returned func restores the slot and records the work as a user event.
func (t *Tracer) Begin(ctx context.Context, entryPoint string) (context.Context, func()) {
	ctx, u := EnsureUnit(ctx)
	c := t.Child(u.slot.Current(), entryPoint)
	tok := u.slot.Activate(c)

	var once sync.Once

	end := func() {
		once.Do(func() {
			u.slot.Restore(tok)
			t.Record(Event{
				TransactionID: c.TransactionID,
				SpanID:        c.SpanID,
				ParentSpanID:  c.ParentSpanID,
				Name:          entryPoint,
				ServiceType:   ServiceTypeUser,
				Start:         c.StartTime,
				Duration:      t.clock.Since(c.StartTime),
			})
		})
	}

	return ctx, end
}

// OnEvent registers a handler and returns its id.
func (t *Tracer) OnEvent(h EventHandler) uint64 {
	if h == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers = append(t.handlers, handlerEntry{handler: h, id: id})

	return id
}

// RemoveHandler removes a handler by id.
func (t *Tracer) RemoveHandler(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Record delivers e to every handler synchronously. Panicking handlers are logged.
func (t *Tracer) Record(e Event) {
	t.mu.RLock()
	if len(t.handlers) == 0 {
		t.mu.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	t.mu.RUnlock()

	for _, h := range handlers {
		t.safeCall(h, e)
	}
}

func (t *Tracer) safeCall(entry handlerEntry, e Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("trace event handler panicked", "handler", entry.id, "panic", r)
		}
	}()

	entry.handler(e)
}
