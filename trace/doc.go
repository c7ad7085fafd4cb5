// Package trace is the tracing SDK boundary the propagation core relies on.
//
// A Context is an opaque position in a trace. Each execution unit (an event loop
// goroutine, or a caller goroutine that adopted a Unit) owns a Slot: a stack of
// active contexts with strict activate/restore pairing. Units travel explicitly
// inside context.Context; there is no goroutine-local or global slot.
//
// Basic usage:
//
//	tracer := trace.NewTracer()
//	ctx, end := tracer.Begin(ctx, "checkout")
//	defer end()
//
//	// trace.Current(ctx) is the checkout context until end runs.
package trace
