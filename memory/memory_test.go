package memory

import (
	"context"
	"testing"
	"time"

	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/pipeline"
	"github.com/next-trace/scg-async-trace/trace"
)

type orderPlaced struct{ ID string }

func (o orderPlaced) MessageKey() []byte { return []byte(o.ID) }

func TestNewMemoryAgent_BasicFlow(t *testing.T) {
	a, tr, cleanup := New()
	defer cleanup()

	connected := a.Bootstrap(tr, pipeline.WithRemote("orders")).Connect(t.Context())
	if err := connected.Await(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ch, err := pipeline.ChannelOf(connected)
	if err != nil {
		t.Fatalf("channel: %v", err)
	}

	ctx, end := a.Tracer().Begin(t.Context(), "place-order")
	defer end()

	want := trace.Current(ctx)
	seen := make(chan *trace.Context, 1)

	ch.Pipeline().WriteAndFlush(ctx, orderPlaced{ID: "o-1"}).AddListener(ctx, func(ctx context.Context, p *future.Promise) {
		if p.Err() != nil {
			t.Errorf("write: %v", p.Err())
		}
		seen <- trace.Current(ctx)
	})

	select {
	case got := <-seen:
		if got != want {
			t.Fatalf("listener saw %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener not invoked")
	}

	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 sent message got %d", len(sent))
	}
	if sent[0].Destination != "orders" || string(sent[0].Key) != "o-1" {
		t.Fatalf("unexpected message: %#v", sent[0])
	}
	if string(sent[0].Body) != `{"ID":"o-1"}` {
		t.Fatalf("unexpected body: %s", sent[0].Body)
	}
}
