package trace

import (
	"context"
	"sync/atomic"

	"github.com/next-trace/scg-async-trace/scope"
)

var unitSeq atomic.Uint64

// Unit is the tracing state of one execution unit: its active-context slot and its
// scope guard. A Unit must only be used by one goroutine at a time.
type Unit struct {
	id    uint64
	name  string
	slot  Slot
	guard scope.Guard
}

// NewUnit creates an execution unit.
func NewUnit(name string) *Unit {
	return &Unit{id: unitSeq.Add(1), name: name}
}

// ID returns the unit's process-unique id.
func (u *Unit) ID() uint64 { return u.id }

// Name returns the name the unit was created with.
func (u *Unit) Name() string { return u.name }

// Slot returns the unit's active context slot.
func (u *Unit) Slot() *Slot { return &u.slot }

// Guard returns the unit's scope guard.
func (u *Unit) Guard() *scope.Guard { return &u.guard }

type unitKeyType struct{}

var unitKey unitKeyType

// WithUnit returns a context bound to u.
func WithUnit(ctx context.Context, u *Unit) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, unitKey, u)
}

// UnitFrom returns the unit bound to ctx.
func UnitFrom(ctx context.Context) (*Unit, bool) {
	if ctx == nil {
		return nil, false
	}

	u, ok := ctx.Value(unitKey).(*Unit)

	return u, ok && u != nil
}

// EnsureUnit returns ctx and its unit, binding a fresh caller unit when ctx has none.
func EnsureUnit(ctx context.Context) (context.Context, *Unit) {
	if u, ok := UnitFrom(ctx); ok {
		return ctx, u
	}

	u := NewUnit("caller")

	return WithUnit(ctx, u), u
}

// Detach strips the unit from ctx. Use it before handing ctx to another goroutine.
func Detach(ctx context.Context) context.Context {
	if _, ok := UnitFrom(ctx); !ok {
		return ctx
	}

	return context.WithValue(ctx, unitKey, (*Unit)(nil))
}

// Current returns the context active on ctx's unit, or nil.
func Current(ctx context.Context) *Context {
	u, ok := UnitFrom(ctx)
	if !ok {
		return nil
	}

	return u.slot.Current()
}
