// Package plugin installs the trace propagation interceptors on the pipeline's
// join points: connect and write boundaries, listener registration, and listener
// notification.
package plugin

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/next-trace/scg-async-trace/carrier"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
	"github.com/next-trace/scg-async-trace/pipeline"
	"github.com/next-trace/scg-async-trace/scope"
	"github.com/next-trace/scg-async-trace/trace"
)

// Plugin wires propagation into an instrument.Builder.
type Plugin struct {
	cfg       Config
	tracer    *trace.Tracer
	metrics   *Metrics
	logger    *slog.Logger
	resolvers []carrier.Resolver
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Plugin) { p.logger = l }
}

// WithTracer sets the tracer internal notification events are recorded with.
func WithTracer(t *trace.Tracer) Option {
	return func(p *Plugin) { p.tracer = t }
}

// WithRegisterer registers the plugin metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Plugin) { p.metrics = NewMetrics(reg) }
}

// WithResolver lets boundaries attach context to results that are not promises.
func WithResolver(r ...carrier.Resolver) Option {
	return func(p *Plugin) { p.resolvers = append(p.resolvers, r...) }
}

// New creates a plugin for cfg.
func New(cfg Config, opts ...Option) *Plugin {
	p := &Plugin{cfg: cfg}
	for _, o := range opts {
		o(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	if p.tracer == nil {
		p.tracer = trace.NewTracer(trace.WithLogger(p.logger))
	}

	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}

	return p
}

// Metrics returns the plugin's counters.
func (p *Plugin) Metrics() *Metrics { return p.metrics }

// Setup installs the interceptors. Join points missing from the builder's catalog
// are logged and skipped; Setup never fails.
func (p *Plugin) Setup(b *instrument.Builder) {
	if !p.cfg.Enabled {
		p.logger.Info("async trace plugin disabled", "option", EnvPrefix+"_ENABLED")
		return
	}

	p.transformBootstrap(b)
	p.transformPipeline(b)
	p.transformPromise(b)

	if p.cfg.HTTPCodecEnabled {
		p.transformEncoder(b)
	}
}

func (p *Plugin) transformBootstrap(b *instrument.Builder) {
	connect := &boundary{family: scope.Connect, metrics: p.metrics, resolvers: p.resolvers}

	for _, m := range []instrument.Method{
		pipeline.MethodConnect,
		pipeline.MethodConnectTo,
		pipeline.MethodConnectFrom,
	} {
		p.addScoped(b, m, connect, scope.Connect, scope.Always)
	}
}

func (p *Plugin) transformPipeline(b *instrument.Builder) {
	write := &boundary{family: scope.Write, metrics: p.metrics, resolvers: p.resolvers}

	for _, m := range []instrument.Method{
		pipeline.MethodWrite,
		pipeline.MethodWriteWithPromise,
		pipeline.MethodWriteAndFlush,
		pipeline.MethodWriteAndFlushWithPromise,
	} {
		p.addScoped(b, m, write, scope.Write, scope.Always)
	}
}

func (p *Plugin) transformPromise(b *instrument.Builder) {
	register := &registration{family: scope.Promise, metrics: p.metrics}
	p.addScoped(b, future.MethodAddListener, register, scope.Promise, scope.Boundary)
	p.addScoped(b, future.MethodAddListeners, register, scope.Promise, scope.Boundary)

	notify := &completion{metrics: p.metrics}
	p.add(b, future.MethodNotifyListenersNow, notify)
	p.add(b, future.MethodNotifyListener0, notify, &basic{tracer: p.tracer, serviceType: trace.ServiceTypeInternal})
}

func (p *Plugin) transformEncoder(b *instrument.Builder) {
	p.addScoped(b, pipeline.MethodEncode, &basic{tracer: p.tracer, serviceType: trace.ServiceTypeInternal}, scope.Codec, scope.Boundary)
}

func (p *Plugin) add(b *instrument.Builder, m instrument.Method, is ...instrument.Interceptor) {
	t, ok := p.target(b, m)
	if !ok {
		return
	}

	for _, i := range is {
		if err := t.AddInterceptor(i); err != nil {
			p.hookFailed(m, err)
		}
	}
}

func (p *Plugin) addScoped(b *instrument.Builder, m instrument.Method, i instrument.Interceptor, name string, policy scope.Policy) {
	t, ok := p.target(b, m)
	if !ok {
		return
	}

	if err := t.AddScopedInterceptor(i, name, policy); err != nil {
		p.hookFailed(m, err)
	}
}

func (p *Plugin) target(b *instrument.Builder, m instrument.Method) (*instrument.Target, bool) {
	c, err := b.Class(m.Class)
	if err != nil {
		p.hookFailed(m, err)
		return nil, false
	}

	t, err := c.DeclaredMethod(m.Name, m.Params...)
	if err != nil {
		p.hookFailed(m, err)
		return nil, false
	}

	return t, true
}

func (p *Plugin) hookFailed(m instrument.Method, err error) {
	p.logger.Debug("can't find method", "method", m.Signature(), "error", err)
	p.metrics.HookInstallFailures.Inc()
}
