package instrument

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-async-trace/trace"
)

// Table is the sealed mapping from join points to interceptor chains.
// It never changes after Build and is safe for concurrent use.
// A nil *Table runs calls uninstrumented.
type Table struct {
	bindings map[string][]Interceptor
	logger   *slog.Logger
}

// Has reports whether m has interceptors.
func (t *Table) Has(m Method) bool {
	if t == nil {
		return false
	}

	return len(t.bindings[m.Signature()]) > 0
}

// Len returns the number of instrumented join points.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}

	return len(t.bindings)
}

// Invoke runs call wrapped by the interceptors bound to m. Before hooks run in
// registration order, After hooks in reverse. call receives ctx bound to the
// invoking unit. A panicking hook is logged and skipped; a panicking call runs the
// After hooks and then resumes panicking.
func (t *Table) Invoke(
	ctx context.Context,
	m Method,
	target any,
	args []any,
	call func(ctx context.Context) (any, error),
) (result any, err error) {
	if t == nil {
		return call(ctx)
	}

	chain := t.bindings[m.Signature()]
	if len(chain) == 0 {
		return call(ctx)
	}

	ctx, u := trace.EnsureUnit(ctx)
	inv := &Invocation{Method: m, Unit: u, Target: target, Args: args}

	for _, i := range chain {
		t.safeHook(inv, "before", i.Before)
	}

	completed := false

	defer func() {
		if !completed {
			inv.Panic = recover()
		}

		inv.Result, inv.Err = result, err

		for k := len(chain) - 1; k >= 0; k-- {
			t.safeHook(inv, "after", chain[k].After)
		}

		if inv.Panic != nil {
			panic(inv.Panic)
		}
	}()

	result, err = call(ctx)
	completed = true

	return result, err
}

func (t *Table) safeHook(inv *Invocation, phase string, hook func(*Invocation)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("interceptor panicked",
				"method", inv.Method.Signature(),
				"phase", phase,
				"panic", r,
			)
		}
	}()

	hook(inv)
}
