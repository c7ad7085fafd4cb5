package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-async-trace/adapters/inmemory"
	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/eventloop"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
	"github.com/next-trace/scg-async-trace/pipeline"
	"github.com/next-trace/scg-async-trace/trace"
)

type order struct {
	ID    string `json:"id"`
	Queue string `json:"-"`
}

func (o order) MessageKey() []byte  { return []byte(o.ID) }
func (o order) Destination() string { return o.Queue }

type badPayload struct{}

func (badPayload) MarshalJSON() ([]byte, error) { return nil, errors.New("nope") }

func newGroup(t *testing.T) *eventloop.Group {
	t.Helper()

	g := eventloop.NewGroup(1, nil)
	t.Cleanup(func() { _ = g.Close() })

	return g
}

func connect(t *testing.T, b *pipeline.Bootstrap) *pipeline.Channel {
	t.Helper()

	p := b.Connect(t.Context())
	require.NoError(t, p.Await(t.Context()))

	ch, err := pipeline.ChannelOf(p)
	require.NoError(t, err)

	return ch
}

// drain waits until every task queued on the loop so far has run.
func drain(t *testing.T, l *eventloop.Loop) {
	t.Helper()

	done := make(chan struct{})
	require.NoError(t, l.Execute(func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not drain")
	}
}

func TestConnect_RequiresRemote(t *testing.T) {
	b := pipeline.New(newGroup(t), inmemory.New(), nil)

	p := b.Connect(t.Context())
	assert.ErrorIs(t, p.Await(t.Context()), berr.ErrRemoteRequired)

	_, err := pipeline.ChannelOf(p)
	assert.ErrorIs(t, err, berr.ErrRemoteRequired)
}

func TestConnect_DialFailure(t *testing.T) {
	boom := errors.New("refused")
	b := pipeline.New(newGroup(t), inmemory.New(inmemory.WithDialError(boom)), nil, pipeline.WithRemote("orders"))

	err := b.Connect(t.Context()).Await(t.Context())
	assert.ErrorIs(t, err, berr.ErrDialFailed)
	assert.ErrorIs(t, err, boom)
}

func TestChannelOf_Pending(t *testing.T) {
	_, err := pipeline.ChannelOf(future.New(nil, nil, nil))
	assert.ErrorIs(t, err, berr.ErrNotConnected)
}

func TestConnect_ListenerRunsOnChannelLoop(t *testing.T) {
	g := newGroup(t)
	b := pipeline.New(g, inmemory.New(), nil, pipeline.WithRemote("orders"), pipeline.WithLocal("svc"))

	got := make(chan *pipeline.Channel, 1)
	b.Connect(t.Context()).AddListener(t.Context(), func(ctx context.Context, p *future.Promise) {
		ch, err := pipeline.ChannelOf(p)
		assert.NoError(t, err)
		assert.True(t, ch.Loop().InLoop(ctx))
		got <- ch
	})

	ch := <-got
	assert.Equal(t, "orders", ch.Remote())
	assert.Equal(t, "svc", ch.Local())
	assert.NotEmpty(t, ch.ID())
	assert.True(t, ch.IsActive())
	assert.Same(t, ch, ch.Pipeline().Channel())
}

func TestWriteAndFlush_SendsEncodedMessage(t *testing.T) {
	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))

	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), order{ID: "42"}).Await(t.Context()))
	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), order{ID: "7", Queue: "audit"}).Await(t.Context()))
	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), "raw").Await(t.Context()))

	sent := tr.Sent()
	require.Len(t, sent, 3)

	assert.Equal(t, "orders", sent[0].Destination)
	assert.Equal(t, []byte("42"), sent[0].Key)
	assert.JSONEq(t, `{"id":"42"}`, string(sent[0].Body))

	assert.Equal(t, "audit", sent[1].Destination)
	assert.Equal(t, []byte("raw"), sent[2].Body)
}

func TestWriteAndFlush_PassesMessagesThrough(t *testing.T) {
	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))

	m := cpipe.Message{Destination: "dlq", Body: []byte("b"), Headers: map[string]string{"k": "v"}}
	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), &m).Await(t.Context()))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, m, sent[0])
}

func TestWrite_BuffersUntilFlush(t *testing.T) {
	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))

	p1 := ch.Pipeline().Write(t.Context(), "a")
	p2 := ch.Pipeline().Write(t.Context(), "b")

	drain(t, ch.Loop())
	assert.Empty(t, tr.Sent())
	assert.False(t, p1.IsDone())

	ch.Pipeline().Flush(t.Context())

	require.NoError(t, p1.Await(t.Context()))
	require.NoError(t, p2.Await(t.Context()))

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte("a"), sent[0].Body)
	assert.Equal(t, []byte("b"), sent[1].Body)
}

func TestWrite_OutboundHandlersRunInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	tag := func(name string) pipeline.OutboundHandler {
		return func(next pipeline.WriteFunc) pipeline.WriteFunc {
			return func(ctx context.Context, msg any) (any, error) {
				mu.Lock()
				seen = append(seen, name)
				mu.Unlock()

				return next(ctx, msg.(string)+name)
			}
		}
	}

	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil,
		pipeline.WithRemote("orders"),
		pipeline.WithOutbound(tag("1"), tag("2")),
	))

	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), "m").Await(t.Context()))

	assert.Equal(t, []string{"1", "2"}, seen)
	assert.Equal(t, []byte("m12"), tr.Sent()[0].Body)
}

func TestWrite_HandlerAndEncodeErrorsFailPromise(t *testing.T) {
	boom := errors.New("rejected")
	reject := func(pipeline.WriteFunc) pipeline.WriteFunc {
		return func(context.Context, any) (any, error) { return nil, boom }
	}

	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders"), pipeline.WithOutbound(reject)))
	assert.ErrorIs(t, ch.Pipeline().WriteAndFlush(t.Context(), "m").Await(t.Context()), boom)

	ch = connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))
	assert.ErrorIs(t, ch.Pipeline().WriteAndFlush(t.Context(), badPayload{}).Await(t.Context()), berr.ErrSerializationFailed)

	assert.Empty(t, tr.Sent())
}

func TestWrite_SendErrorFailsPromise(t *testing.T) {
	boom := errors.New("broker down")
	ch := connect(t, pipeline.New(newGroup(t), inmemory.New(inmemory.WithSendError(boom)), nil, pipeline.WithRemote("orders")))

	err := ch.Pipeline().WriteAndFlush(t.Context(), "m").Await(t.Context())
	assert.ErrorIs(t, err, berr.ErrSendFailed)
	assert.ErrorIs(t, err, boom)
}

func TestWriteWithPromise_ReturnsCallersPromise(t *testing.T) {
	ch := connect(t, pipeline.New(newGroup(t), inmemory.New(), nil, pipeline.WithRemote("orders")))

	p := ch.NewPromise()
	assert.Same(t, p, ch.Pipeline().WriteAndFlushWithPromise(t.Context(), "m", p))
	require.NoError(t, p.Await(t.Context()))

	p = ch.NewPromise()
	assert.Same(t, p, ch.Pipeline().WriteWithPromise(t.Context(), "m", p))
	ch.Pipeline().Flush(t.Context())
	require.NoError(t, p.Await(t.Context()))
}

func TestFlush_ActivatesCarriedContextAroundSend(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []*trace.Context
	)

	tr := inmemory.New(inmemory.WithObserver(func(ctx context.Context, _ cpipe.Message) {
		mu.Lock()
		seen = append(seen, trace.Current(ctx))
		mu.Unlock()
	}))
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))

	tc := &trace.Context{TransactionID: "tx-1"}
	p := ch.NewPromise()
	p.Carrier().Store(tc)

	require.NoError(t, ch.Pipeline().WriteAndFlushWithPromise(t.Context(), "a", p).Await(t.Context()))
	require.NoError(t, ch.Pipeline().WriteAndFlush(t.Context(), "b").Await(t.Context()))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, seen, 2)
	assert.Same(t, tc, seen[0])
	assert.Nil(t, seen[1])

	depth := make(chan int, 1)
	require.NoError(t, ch.Loop().Execute(func(ctx context.Context) {
		u, _ := trace.UnitFrom(ctx)
		depth <- u.Slot().Depth()
	}))
	assert.Equal(t, 0, <-depth)
}

func TestClose_FailsPendingAndLaterWrites(t *testing.T) {
	tr := inmemory.New()
	ch := connect(t, pipeline.New(newGroup(t), tr, nil, pipeline.WithRemote("orders")))

	pending := ch.Pipeline().Write(t.Context(), "a")

	require.NoError(t, ch.Close(t.Context()).Await(t.Context()))
	assert.ErrorIs(t, pending.Await(t.Context()), berr.ErrChannelClosed)
	assert.False(t, ch.IsActive())
	assert.Equal(t, 1, tr.Closed)

	assert.ErrorIs(t, ch.Pipeline().WriteAndFlush(t.Context(), "b").Await(t.Context()), berr.ErrChannelClosed)
	require.NoError(t, ch.Close(t.Context()).Await(t.Context()))
	assert.Empty(t, tr.Sent())
}

func TestWrite_ClosedLoopFailsPromise(t *testing.T) {
	g := eventloop.NewGroup(1, nil)
	ch := connect(t, pipeline.New(g, inmemory.New(), nil, pipeline.WithRemote("orders")))
	require.NoError(t, g.Close())

	assert.ErrorIs(t, ch.Pipeline().WriteAndFlush(t.Context(), "m").Await(t.Context()), berr.ErrLoopClosed)
}

type recorder struct {
	mu    *sync.Mutex
	calls *[]string
}

func (r recorder) Before(inv *instrument.Invocation) {
	r.mu.Lock()
	*r.calls = append(*r.calls, "before:"+inv.Method.Name)
	r.mu.Unlock()
}

func (r recorder) After(inv *instrument.Invocation) {
	r.mu.Lock()
	*r.calls = append(*r.calls, "after:"+inv.Method.Name)
	r.mu.Unlock()
}

func TestJoinPoints_DelegationChains(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)

	b := instrument.NewBuilder(pipeline.Catalog(), nil)
	for _, m := range []instrument.Method{
		pipeline.MethodConnect, pipeline.MethodConnectTo, pipeline.MethodConnectFrom,
		pipeline.MethodWrite, pipeline.MethodWriteWithPromise, pipeline.MethodEncode,
	} {
		c, err := b.Class(m.Class)
		require.NoError(t, err)
		tg, err := c.DeclaredMethod(m.Name, m.Params...)
		require.NoError(t, err)
		require.NoError(t, tg.AddInterceptor(recorder{mu: &mu, calls: &calls}))
	}

	ch := connect(t, pipeline.New(newGroup(t), inmemory.New(), b.Build(), pipeline.WithRemote("orders")))

	p := ch.Pipeline().Write(t.Context(), "m")
	ch.Pipeline().Flush(t.Context())
	require.NoError(t, p.Await(t.Context()))

	mu.Lock()
	defer mu.Unlock()

	// Encode runs on the loop, concurrently with the caller's hooks.
	var caller, loop []string
	for _, c := range calls {
		if strings.HasSuffix(c, ":Encode") {
			loop = append(loop, c)
			continue
		}

		caller = append(caller, c)
	}

	assert.Equal(t, []string{
		"before:Connect", "before:ConnectTo", "before:ConnectFrom",
		"after:ConnectFrom", "after:ConnectTo", "after:Connect",
		"before:Write", "before:WriteWithPromise",
		"after:WriteWithPromise", "after:Write",
	}, caller)
	assert.Equal(t, []string{"before:Encode", "after:Encode"}, loop)
}
