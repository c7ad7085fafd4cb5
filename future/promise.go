// Package future provides Promise, a single-assignment asynchronous result whose
// listeners run on the promise's event loop in registration order.
package future

import (
	"context"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-async-trace/carrier"
	"github.com/next-trace/scg-async-trace/instrument"
)

// Class is the instrumentation class name of Promise.
const Class = "future.Promise"

// Join points exposed by Promise.
var (
	MethodAddListener        = instrument.Method{Class: Class, Name: "AddListener", Params: []string{"Listener"}}
	MethodAddListeners       = instrument.Method{Class: Class, Name: "AddListeners", Params: []string{"[]Listener"}}
	MethodNotifyListenersNow = instrument.Method{Class: Class, Name: "NotifyListenersNow"}
	MethodNotifyListener0    = instrument.Method{Class: Class, Name: "NotifyListener0", Params: []string{"Promise", "Listener"}}
)

// Methods returns the join points Promise declares.
func Methods() []instrument.Method {
	return []instrument.Method{
		MethodAddListener,
		MethodAddListeners,
		MethodNotifyListenersNow,
		MethodNotifyListener0,
	}
}

// Executor runs listener notifications. eventloop.Loop implements it.
type Executor interface {
	Execute(task func(ctx context.Context)) error
	InLoop(ctx context.Context) bool
}

// Listener is called once the promise completes. ctx is bound to the execution unit
// running the notification.
type Listener func(ctx context.Context, p *Promise)

// Promise is a pending operation. It completes exactly once.
// Safe for concurrent use by multiple goroutines.
type Promise struct {
	carrier carrier.Field

	exec   Executor
	table  *instrument.Table
	logger *slog.Logger

	mu        sync.Mutex
	completed bool
	result    any
	err       error
	listeners []Listener
	notifying bool
	done      chan struct{}
}

// New creates a pending promise notifying through exec. A nil exec notifies on the
// completing goroutine; a nil table runs uninstrumented.
func New(exec Executor, table *instrument.Table, logger *slog.Logger) *Promise {
	if logger == nil {
		logger = slog.Default()
	}

	return &Promise{
		exec:   exec,
		table:  table,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Carrier implements carrier.Accessor.
func (p *Promise) Carrier() *carrier.Field {
	if p == nil {
		return nil
	}

	return &p.carrier
}

// Executor returns the executor listeners run on.
func (p *Promise) Executor() Executor { return p.exec }

// TrySuccess completes the promise with v. It reports false if already completed.
func (p *Promise) TrySuccess(ctx context.Context, v any) bool {
	return p.complete(ctx, v, nil)
}

// TryFailure completes the promise with err. It reports false if already completed.
func (p *Promise) TryFailure(ctx context.Context, err error) bool {
	return p.complete(ctx, nil, err)
}

func (p *Promise) complete(ctx context.Context, v any, err error) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}

	p.completed = true
	p.result = v
	p.err = err
	close(p.done)
	hasListeners := len(p.listeners) > 0
	p.mu.Unlock()

	if hasListeners {
		p.notifyListeners(ctx)
	}

	return true
}

// IsDone reports whether the promise completed.
func (p *Promise) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.completed
}

// IsSuccess reports whether the promise completed without error.
func (p *Promise) IsSuccess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.completed && p.err == nil
}

// Done is closed on completion.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Err returns the failure cause, or nil while pending or on success.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

// Result returns the success value, or nil.
func (p *Promise) Result() any {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.result
}

// Await blocks until completion or ctx is done.
func (p *Promise) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
