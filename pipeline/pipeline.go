package pipeline

import (
	"context"
	"fmt"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/trace"
)

// WriteFunc transforms an outbound message before it is encoded.
type WriteFunc func(ctx context.Context, msg any) (any, error)

// OutboundHandler wraps the next WriteFunc. The first registered handler runs first.
type OutboundHandler func(next WriteFunc) WriteFunc

type pendingWrite struct {
	msg     cpipe.Message
	promise *future.Promise
}

// Pipeline is the outbound path of a Channel. Writes are buffered on the channel's
// loop until flushed; each write completes its promise when the transport reports
// the outcome of the send.
type Pipeline struct {
	ch      *Channel
	encoder *Encoder
	handler WriteFunc

	// loop-owned
	pending []pendingWrite
}

func newPipeline(ch *Channel, enc *Encoder, outbound []OutboundHandler) *Pipeline {
	return &Pipeline{
		ch:      ch,
		encoder: enc,
		handler: chain(outbound),
	}
}

func chain(hs []OutboundHandler) WriteFunc {
	final := WriteFunc(func(_ context.Context, msg any) (any, error) { return msg, nil })

	for i := len(hs) - 1; i >= 0; i-- {
		final = hs[i](final)
	}

	return final
}

// Channel returns the channel owning the pipeline.
func (pl *Pipeline) Channel() *Channel { return pl.ch }

// Write buffers msg without flushing.
func (pl *Pipeline) Write(ctx context.Context, msg any) *future.Promise {
	res, _ := pl.ch.table.Invoke(ctx, MethodWrite, pl, []any{msg}, func(ctx context.Context) (any, error) {
		return pl.WriteWithPromise(ctx, msg, pl.ch.NewPromise()), nil
	})

	return res.(*future.Promise)
}

// WriteWithPromise buffers msg and completes p with the outcome. It returns p.
func (pl *Pipeline) WriteWithPromise(ctx context.Context, msg any, p *future.Promise) *future.Promise {
	res, _ := pl.ch.table.Invoke(ctx, MethodWriteWithPromise, pl, []any{msg, p}, func(ctx context.Context) (any, error) {
		pl.write(ctx, msg, p, false)
		return p, nil
	})

	return res.(*future.Promise)
}

// WriteAndFlush buffers msg and flushes the buffer.
func (pl *Pipeline) WriteAndFlush(ctx context.Context, msg any) *future.Promise {
	res, _ := pl.ch.table.Invoke(ctx, MethodWriteAndFlush, pl, []any{msg}, func(ctx context.Context) (any, error) {
		return pl.WriteAndFlushWithPromise(ctx, msg, pl.ch.NewPromise()), nil
	})

	return res.(*future.Promise)
}

// WriteAndFlushWithPromise buffers msg, flushes, and completes p with the outcome.
func (pl *Pipeline) WriteAndFlushWithPromise(ctx context.Context, msg any, p *future.Promise) *future.Promise {
	res, _ := pl.ch.table.Invoke(ctx, MethodWriteAndFlushWithPromise, pl, []any{msg, p}, func(ctx context.Context) (any, error) {
		pl.write(ctx, msg, p, true)
		return p, nil
	})

	return res.(*future.Promise)
}

// Flush hands every buffered write to the transport.
func (pl *Pipeline) Flush(ctx context.Context) {
	loop := pl.ch.loop
	if loop.InLoop(ctx) {
		pl.flush0(ctx)
		return
	}

	if err := loop.Execute(pl.flush0); err != nil {
		pl.ch.logger.Warn("flush dropped", "channel", pl.ch.id, "error", err)
	}
}

func (pl *Pipeline) write(ctx context.Context, msg any, p *future.Promise, flush bool) {
	loop := pl.ch.loop
	if loop.InLoop(ctx) {
		pl.write0(ctx, msg, p, flush)
		return
	}

	err := loop.Execute(func(ctx context.Context) {
		pl.write0(ctx, msg, p, flush)
	})
	if err != nil {
		p.TryFailure(ctx, fmt.Errorf("write %s: %w", pl.ch.id, err))
	}
}

func (pl *Pipeline) write0(ctx context.Context, msg any, p *future.Promise, flush bool) {
	if _, closed := pl.ch.state(); closed {
		p.TryFailure(ctx, fmt.Errorf("write %s: %w", pl.ch.id, berr.ErrChannelClosed))
		return
	}

	// handlers and the encoder run in the write's trace
	if u, ok := trace.UnitFrom(ctx); ok {
		tok := u.Slot().Activate(p.Carrier().Load())
		defer u.Slot().Restore(tok)
	}

	out, err := pl.handler(ctx, msg)
	if err != nil {
		p.TryFailure(ctx, fmt.Errorf("write %s: %w", pl.ch.id, err))
		return
	}

	m, err := pl.encoder.Encode(ctx, out)
	if err != nil {
		p.TryFailure(ctx, fmt.Errorf("write %s: %w", pl.ch.id, err))
		return
	}

	if m.Destination == "" {
		m.Destination = pl.ch.remote
	}

	pl.pending = append(pl.pending, pendingWrite{msg: m, promise: p})

	if flush {
		pl.flush0(ctx)
	}
}

func (pl *Pipeline) flush0(ctx context.Context) {
	if len(pl.pending) == 0 {
		return
	}

	conn, closed := pl.ch.state()

	switch {
	case closed:
		pl.failPending(ctx, fmt.Errorf("flush %s: %w", pl.ch.id, berr.ErrChannelClosed))
		return
	case conn == nil:
		pl.failPending(ctx, fmt.Errorf("flush %s: %w", pl.ch.id, berr.ErrNotConnected))
		return
	}

	batch := pl.pending
	pl.pending = nil

	u, _ := trace.UnitFrom(ctx)
	for _, w := range batch {
		pl.send(ctx, u, conn, w)
	}
}

// send runs with the write's carried context active on the loop unit, so the
// transport sees it as the current context.
func (pl *Pipeline) send(ctx context.Context, u *trace.Unit, conn cpipe.Conn, w pendingWrite) {
	if u != nil {
		tok := u.Slot().Activate(w.promise.Carrier().Load())
		defer u.Slot().Restore(tok)
	}

	conn.Send(ctx, w.msg, func(err error) {
		done := context.Background()
		if err != nil {
			w.promise.TryFailure(done, err)
			return
		}

		w.promise.TrySuccess(done, nil)
	})
}

// failPending must run on the loop.
func (pl *Pipeline) failPending(ctx context.Context, err error) {
	batch := pl.pending
	pl.pending = nil

	for _, w := range batch {
		w.promise.TryFailure(ctx, err)
	}
}
