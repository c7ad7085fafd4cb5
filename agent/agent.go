package agent

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/next-trace/scg-async-trace/carrier"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/eventloop"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
	"github.com/next-trace/scg-async-trace/pipeline"
	"github.com/next-trace/scg-async-trace/plugin"
	"github.com/next-trace/scg-async-trace/trace"
)

// DefaultLoops is the size of the event loop group when WithLoops is not given.
const DefaultLoops = 2

// Agent owns the instrumentation table and the event loops pipelines run on.
// Agent is concurrency-safe and contains no global state.
type Agent struct {
	cfg     plugin.Config
	plugin  *plugin.Plugin
	table   *instrument.Table
	group   *eventloop.Group
	tracer  *trace.Tracer
	logger  *slog.Logger
	catalog *instrument.Catalog
}

type options struct {
	logger    *slog.Logger
	loops     int
	tracer    *trace.Tracer
	reg       prometheus.Registerer
	catalog   *instrument.Catalog
	resolvers []carrier.Resolver
}

// Option configures an Agent.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithLoops sets the number of event loops.
func WithLoops(n int) Option { return func(o *options) { o.loops = n } }

// WithTracer sets the tracer.
func WithTracer(t *trace.Tracer) Option { return func(o *options) { o.tracer = t } }

// WithRegisterer registers the propagation metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.reg = reg } }

// WithCatalog replaces the join point catalog, e.g. to model a library version
// lacking some methods.
func WithCatalog(c *instrument.Catalog) Option { return func(o *options) { o.catalog = c } }

// WithResolver lets boundaries attach context to foreign pending operations.
func WithResolver(r ...carrier.Resolver) Option {
	return func(o *options) { o.resolvers = append(o.resolvers, r...) }
}

// New installs the plugin for cfg and starts the event loops.
func New(cfg plugin.Config, opts ...Option) *Agent {
	o := options{loops: DefaultLoops}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	if o.tracer == nil {
		o.tracer = trace.NewTracer(trace.WithLogger(o.logger))
	}

	if o.catalog == nil {
		o.catalog = pipeline.Catalog()
	}

	p := plugin.New(cfg,
		plugin.WithLogger(o.logger),
		plugin.WithTracer(o.tracer),
		plugin.WithRegisterer(o.reg),
		plugin.WithResolver(o.resolvers...),
	)

	b := instrument.NewBuilder(o.catalog, o.logger)
	p.Setup(b)

	a := &Agent{
		cfg:     cfg,
		plugin:  p,
		table:   b.Build(),
		group:   eventloop.NewGroup(o.loops, o.logger),
		tracer:  o.tracer,
		logger:  o.logger,
		catalog: o.catalog,
	}

	a.logger.Debug("async trace agent started",
		"enabled", cfg.Enabled,
		"httpCodecEnabled", cfg.HTTPCodecEnabled,
		"bindings", a.table.Len(),
	)

	return a
}

// Bootstrap returns a bootstrap connecting through transport on the agent's loops.
func (a *Agent) Bootstrap(transport cpipe.Transport, opts ...pipeline.Option) *pipeline.Bootstrap {
	return pipeline.New(a.group, transport, a.table, append([]pipeline.Option{pipeline.WithLogger(a.logger)}, opts...)...)
}

// NewPromise returns an instrumented promise notifying on the next loop.
func (a *Agent) NewPromise() *future.Promise {
	return future.New(a.group.Next(), a.table, a.logger)
}

// Config returns the plugin configuration the agent was built with.
func (a *Agent) Config() plugin.Config { return a.cfg }

// Tracer returns the tracer recording spans.
func (a *Agent) Tracer() *trace.Tracer { return a.tracer }

// Table returns the sealed instrumentation table.
func (a *Agent) Table() *instrument.Table { return a.table }

// Group returns the agent's event loops.
func (a *Agent) Group() *eventloop.Group { return a.group }

// Metrics returns the propagation counters.
func (a *Agent) Metrics() *plugin.Metrics { return a.plugin.Metrics() }

// Catalog returns the join points the table was built against.
func (a *Agent) Catalog() *instrument.Catalog { return a.catalog }

// Close stops the event loops after running the tasks already queued.
func (a *Agent) Close() error {
	if err := a.group.Close(); err != nil {
		return fmt.Errorf("close agent: %w", err)
	}

	return nil
}
