package trace_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/next-trace/scg-async-trace/trace"
)

func TestTracer_BeginNestsAndRestores(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	tracer := trace.NewTracer(trace.WithClock(clock))

	var rec trace.Recorder
	tracer.OnEvent(rec.Handle)

	ctx, endOuter := tracer.Begin(t.Context(), "checkout")
	outer := trace.Current(ctx)
	require.NotNil(t, outer)
	assert.Equal(t, "checkout", outer.EntryPoint)
	assert.Empty(t, outer.ParentSpanID)

	ctx2, endInner := tracer.Begin(ctx, "reserve")
	inner := trace.Current(ctx2)
	require.NotNil(t, inner)
	assert.Equal(t, outer.TransactionID, inner.TransactionID)
	assert.Equal(t, outer.SpanID, inner.ParentSpanID)

	clock.Advance(50 * time.Millisecond)
	endInner()
	endInner() // idempotent

	assert.Same(t, outer, trace.Current(ctx))

	endOuter()
	assert.Nil(t, trace.Current(ctx))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "reserve", events[0].Name)
	assert.Equal(t, 50*time.Millisecond, events[0].Duration)
	assert.Equal(t, trace.ServiceTypeUser, events[1].ServiceType)
}

func TestTracer_NewTraceIDsAreUnique(t *testing.T) {
	tracer := trace.NewTracer()

	a, b := tracer.NewTrace("a"), tracer.NewTrace("b")
	assert.NotEqual(t, a.TransactionID, b.TransactionID)
	assert.NotEqual(t, a.SpanID, b.SpanID)

	child := tracer.Child(nil, "c")
	assert.Empty(t, child.ParentSpanID)
}

func TestTracer_PanickingHandlerIsIsolated(t *testing.T) {
	tracer := trace.NewTracer()

	var rec trace.Recorder

	tracer.OnEvent(func(trace.Event) { panic("boom") })
	tracer.OnEvent(rec.Handle)

	require.NotPanics(t, func() {
		tracer.Record(trace.Event{Name: "x", ServiceType: trace.ServiceTypeInternal})
	})

	assert.Len(t, rec.Filter(trace.ServiceTypeInternal), 1)
}

func TestTracer_RemoveHandler(t *testing.T) {
	tracer := trace.NewTracer()

	var rec trace.Recorder

	id := tracer.OnEvent(rec.Handle)
	tracer.RemoveHandler(id)
	tracer.Record(trace.Event{Name: "x"})

	assert.Empty(t, rec.Events())
	assert.Zero(t, tracer.OnEvent(nil))
}
