package instrument

import (
	"github.com/next-trace/scg-async-trace/scope"
	"github.com/next-trace/scg-async-trace/trace"
)

// Interceptor runs around an instrumented call. Before and After run on the calling
// goroutine, exactly once per real invocation; After runs even when the call panics.
type Interceptor interface {
	Before(inv *Invocation)
	After(inv *Invocation)
}

// Invocation describes one call of an instrumented method.
type Invocation struct {
	Method Method
	Unit   *trace.Unit
	Target any
	Args   []any

	// Result, Err and Panic are set before After hooks run.
	Result any
	Err    error
	Panic  any

	scratch map[any]any
}

// Set stores per-invocation state under key, usually the interceptor itself.
func (inv *Invocation) Set(key, v any) {
	if inv.scratch == nil {
		inv.scratch = make(map[any]any, 1)
	}

	inv.scratch[key] = v
}

// Get returns state stored by Set.
func (inv *Invocation) Get(key any) (any, bool) {
	v, ok := inv.scratch[key]
	return v, ok
}

// scoped runs next only when the policy admits the current depth of the scope on
// the invoking unit. Nested invocations of one scope defer to the outermost one.
type scoped struct {
	next   Interceptor
	name   string
	policy scope.Policy
}

func (s *scoped) Before(inv *Invocation) {
	if s.policy.Run(inv.Unit.Guard().Enter(s.name)) {
		s.next.Before(inv)
	}
}

func (s *scoped) After(inv *Invocation) {
	g := inv.Unit.Guard()
	defer g.Leave(s.name)

	if s.policy.Run(g.Depth(s.name)) {
		s.next.After(inv)
	}
}
