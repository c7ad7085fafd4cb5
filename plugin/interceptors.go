package plugin

import (
	"github.com/next-trace/scg-async-trace/carrier"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
	"github.com/next-trace/scg-async-trace/scope"
	"github.com/next-trace/scg-async-trace/trace"
)

// capture is the context snapshot shared by one delegation chain of a family.
type capture struct {
	ctx      *trace.Context
	attached bool
}

// boundary attaches the caller's context to the pending operation of a connect or
// write call. The outermost invocation of the family snapshots the slot; the first
// invocation receiving a promise argument attaches it before the work is scheduled,
// otherwise the outermost invocation attaches it to the returned operation.
type boundary struct {
	family    string
	metrics   *Metrics
	resolvers []carrier.Resolver
}

func (b *boundary) Before(inv *instrument.Invocation) {
	g := inv.Unit.Guard()

	c, _ := g.Attachment(b.family).(*capture)
	if c == nil {
		c = &capture{ctx: inv.Unit.Slot().Current()}
		g.SetAttachment(b.family, c)

		if c.ctx == nil {
			b.metrics.PropagationNoop.WithLabelValues(b.family).Inc()
		}
	}

	if c.ctx == nil || c.attached {
		return
	}

	for _, a := range inv.Args {
		if p, ok := a.(*future.Promise); ok && p != nil {
			b.attach(c, p.Carrier())
			return
		}
	}
}

func (b *boundary) After(inv *instrument.Invocation) {
	g := inv.Unit.Guard()
	if g.Depth(b.family) != 1 {
		return
	}

	c, _ := g.Attachment(b.family).(*capture)
	if c == nil || c.ctx == nil || c.attached {
		return
	}

	if f, ok := carrier.Of(inv.Result, b.resolvers...); ok {
		b.attach(c, f)
	}
}

func (b *boundary) attach(c *capture, f *carrier.Field) {
	f.Store(c.ctx)
	c.attached = true
	b.metrics.CarrierWrites.WithLabelValues(b.family).Inc()
}

// registration records the registering caller's context on the promise unless an
// earlier boundary or registration already did.
type registration struct {
	family  string
	metrics *Metrics
}

func (r *registration) Before(inv *instrument.Invocation) {
	c := inv.Unit.Slot().Current()
	if c == nil {
		r.metrics.PropagationNoop.WithLabelValues(r.family).Inc()
		return
	}

	f, ok := carrier.Of(inv.Target)
	if ok && f.StoreIfEmpty(c) {
		r.metrics.CarrierWrites.WithLabelValues(r.family).Inc()
	}
}

func (r *registration) After(*instrument.Invocation) {}

// completion activates the promise's carried context for the duration of listener
// notification and restores the slot afterwards, whatever the listener did. The
// unit's scope guard is suspended meanwhile, so calls a listener issues are new
// boundaries even when it runs inline inside a connect, write or registration.
type completion struct {
	metrics *Metrics
}

type notified struct {
	guard     scope.State
	tok       trace.Token
	activated bool
}

func (c *completion) Before(inv *instrument.Invocation) {
	n := &notified{guard: inv.Unit.Guard().Suspend()}
	inv.Set(c, n)

	f, ok := carrier.Of(inv.Target)
	if !ok {
		return
	}

	tc := f.Load()
	if tc == nil {
		return
	}

	n.tok, n.activated = inv.Unit.Slot().Activate(tc), true
	c.metrics.Activations.Inc()
}

func (c *completion) After(inv *instrument.Invocation) {
	v, ok := inv.Get(c)
	if !ok {
		return
	}

	n := v.(*notified)
	if n.activated {
		inv.Unit.Slot().Restore(n.tok)
	}

	inv.Unit.Guard().Resume(n.guard)
}

// basic records the invocation as a span event of the active trace without touching
// the active context.
type basic struct {
	tracer      *trace.Tracer
	serviceType trace.ServiceType
}

func (b *basic) Before(inv *instrument.Invocation) {
	cur := inv.Unit.Slot().Current()
	if cur == nil {
		return
	}

	inv.Set(b, b.tracer.Child(cur, inv.Method.Signature()))
}

func (b *basic) After(inv *instrument.Invocation) {
	v, ok := inv.Get(b)
	if !ok {
		return
	}

	span := v.(*trace.Context)
	b.tracer.Record(trace.Event{
		TransactionID: span.TransactionID,
		SpanID:        span.SpanID,
		ParentSpanID:  span.ParentSpanID,
		Name:          span.EntryPoint,
		ServiceType:   b.serviceType,
		Start:         span.StartTime,
		Duration:      b.tracer.Since(span.StartTime),
		Failed:        inv.Err != nil || inv.Panic != nil,
	})
}
