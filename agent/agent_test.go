package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-async-trace/adapters/inmemory"
	"github.com/next-trace/scg-async-trace/agent"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/pipeline"
	"github.com/next-trace/scg-async-trace/plugin"
	"github.com/next-trace/scg-async-trace/trace"
)

func TestAgent_PropagatesAcrossConnectAndWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := agent.New(plugin.DefaultConfig(), agent.WithLoops(3), agent.WithRegisterer(reg))
	defer func() { require.NoError(t, a.Close()) }()

	assert.Len(t, a.Group().Loops(), 3)
	assert.Positive(t, a.Table().Len())

	tr := inmemory.New()
	boot := a.Bootstrap(tr, pipeline.WithRemote("orders"))

	ctx, end := a.Tracer().Begin(t.Context(), "checkout")
	defer end()

	want := trace.Current(ctx)
	got := make(chan *trace.Context, 2)

	boot.Connect(ctx).AddListener(context.Background(), func(ctx context.Context, p *future.Promise) {
		got <- trace.Current(ctx)

		ch, err := pipeline.ChannelOf(p)
		if !assert.NoError(t, err) {
			return
		}

		// a write issued from a listener is a new boundary in the listener's trace
		ch.Pipeline().WriteAndFlush(ctx, "order-1").AddListener(ctx, func(ctx context.Context, _ *future.Promise) {
			got <- trace.Current(ctx)
		})
	})

	for range 2 {
		select {
		case c := <-got:
			assert.Same(t, want, c)
		case <-time.After(2 * time.Second):
			t.Fatal("listener not invoked")
		}
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Metrics().CarrierWrites.WithLabelValues("connect"))+
		testutil.ToFloat64(a.Metrics().CarrierWrites.WithLabelValues("write")))
	assert.Len(t, tr.Sent(), 1)
}

func TestAgent_Disabled(t *testing.T) {
	a := agent.New(plugin.Config{}, agent.WithLoops(0))
	defer func() { require.NoError(t, a.Close()) }()

	assert.Zero(t, a.Table().Len())
	assert.Len(t, a.Group().Loops(), 1)
	assert.Equal(t, plugin.Config{}, a.Config())

	p := a.NewPromise()
	p.TrySuccess(t.Context(), 1)
	assert.Equal(t, 1, p.Result())
}

func TestAgent_CatalogOverride(t *testing.T) {
	catalog := pipeline.Catalog().Without(future.MethodAddListeners)
	a := agent.New(plugin.DefaultConfig(), agent.WithCatalog(catalog))
	defer func() { require.NoError(t, a.Close()) }()

	assert.Same(t, catalog, a.Catalog())
	assert.False(t, a.Table().Has(future.MethodAddListeners))
	assert.True(t, a.Table().Has(future.MethodAddListener))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics().HookInstallFailures))
}
