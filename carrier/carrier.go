// Package carrier attaches a trace context to pending asynchronous operations.
//
// Types under our control embed a Field and expose it through Accessor. Objects we
// neither own nor can wrap are tracked by a Registry keyed by weak identity, so the
// carrier never keeps a completed operation alive.
package carrier

import (
	"sync/atomic"

	"github.com/next-trace/scg-async-trace/trace"
)

// Field holds at most one trace context. Reads are non-destructive.
// The zero value is empty and ready to use.
type Field struct {
	ctx    atomic.Pointer[trace.Context]
	writes atomic.Uint64
}

// Load returns the carried context, or nil.
func (f *Field) Load() *trace.Context { return f.ctx.Load() }

// Store replaces the carried context. Storing nil is ignored.
func (f *Field) Store(c *trace.Context) {
	if c == nil {
		return
	}

	f.ctx.Store(c)
	f.writes.Add(1)
}

// StoreIfEmpty sets c only when nothing is carried yet and reports whether it did.
func (f *Field) StoreIfEmpty(c *trace.Context) bool {
	if c == nil || !f.ctx.CompareAndSwap(nil, c) {
		return false
	}

	f.writes.Add(1)

	return true
}

// Writes returns how many times a context was written.
func (f *Field) Writes() uint64 { return f.writes.Load() }

// Accessor is implemented by pending operations that carry their own Field.
type Accessor interface {
	Carrier() *Field
}

// Resolver finds the Field for objects that do not implement Accessor.
type Resolver interface {
	Resolve(v any) (*Field, bool)
}

// Of returns the Field attached to v, consulting resolvers when v is not an Accessor.
func Of(v any, resolvers ...Resolver) (*Field, bool) {
	if v == nil {
		return nil, false
	}

	if a, ok := v.(Accessor); ok {
		f := a.Carrier()
		return f, f != nil
	}

	for _, r := range resolvers {
		if f, ok := r.Resolve(v); ok {
			return f, true
		}
	}

	return nil, false
}
