package carrier_test

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-async-trace/carrier"
	"github.com/next-trace/scg-async-trace/trace"
)

type owned struct{ f carrier.Field }

func (o *owned) Carrier() *carrier.Field { return &o.f }

type foreign struct {
	id  int
	buf [64]byte
}

func TestField_LastWriterWinsAndFirstRegistrantWins(t *testing.T) {
	var f carrier.Field

	a := &trace.Context{TransactionID: "a"}
	b := &trace.Context{TransactionID: "b"}

	assert.True(t, f.StoreIfEmpty(a))
	assert.False(t, f.StoreIfEmpty(b))
	assert.Same(t, a, f.Load())

	f.Store(b)
	assert.Same(t, b, f.Load())

	// reads do not consume
	assert.Same(t, b, f.Load())

	f.Store(nil)
	assert.Same(t, b, f.Load())
	assert.Equal(t, uint64(2), f.Writes())
}

func TestField_ConcurrentStoreIfEmptyHasOneWinner(t *testing.T) {
	var (
		f    carrier.Field
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := range 32 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			if f.StoreIfEmpty(&trace.Context{SpanID: string(rune('a' + i))}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, uint64(1), f.Writes())
}

func TestOf_AccessorAndResolvers(t *testing.T) {
	o := &owned{}

	f, ok := carrier.Of(o)
	require.True(t, ok)
	assert.Same(t, &o.f, f)

	_, ok = carrier.Of(nil)
	assert.False(t, ok)

	reg := carrier.NewRegistry[foreign]()
	obj := &foreign{id: 1}

	_, ok = carrier.Of(obj, reg)
	assert.False(t, ok, "lookup must not create entries")

	created := reg.For(obj)

	f, ok = carrier.Of(obj, reg)
	require.True(t, ok)
	assert.Same(t, created, f)

	_, ok = carrier.Of("not a pending operation", reg)
	assert.False(t, ok)

	runtime.KeepAlive(obj)
}

func TestRegistry_IdentityKeyed(t *testing.T) {
	reg := carrier.NewRegistry[foreign]()

	a, b := &foreign{id: 1}, &foreign{id: 1}

	fa := reg.For(a)
	assert.Same(t, fa, reg.For(a))
	assert.NotSame(t, fa, reg.For(b))
	assert.Equal(t, 2, reg.Len())

	assert.Nil(t, reg.For(nil))

	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestRegistry_EntriesReclaimedWithObject(t *testing.T) {
	reg := carrier.NewRegistry[foreign]()

	func() {
		obj := &foreign{id: 7}
		reg.For(obj).Store(&trace.Context{TransactionID: "tx"})
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return reg.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
