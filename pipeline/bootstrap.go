package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/eventloop"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
	"github.com/next-trace/scg-async-trace/trace"
)

// Bootstrap connects channels through a transport and binds each one to a loop of the group.
// Bootstrap is safe for concurrent use once configured.
type Bootstrap struct {
	group     *eventloop.Group
	transport cpipe.Transport
	table     *instrument.Table
	logger    *slog.Logger
	encoder   *Encoder

	remote   string
	local    string
	outbound []OutboundHandler
}

// Option configures a Bootstrap.
type Option func(*Bootstrap)

// WithRemote sets the destination Connect uses.
func WithRemote(addr string) Option {
	return func(b *Bootstrap) { b.remote = addr }
}

// WithLocal sets the local address passed to the transport.
func WithLocal(addr string) Option {
	return func(b *Bootstrap) { b.local = addr }
}

// WithOutbound appends outbound handlers to every channel's pipeline.
// Handlers run in registration order on the channel's loop.
func WithOutbound(h ...OutboundHandler) Option {
	return func(b *Bootstrap) { b.outbound = append(b.outbound, h...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrap) { b.logger = l }
}

// New creates a Bootstrap. table may be nil for an uninstrumented pipeline.
func New(group *eventloop.Group, transport cpipe.Transport, table *instrument.Table, opts ...Option) *Bootstrap {
	b := &Bootstrap{
		group:     group,
		transport: transport,
		table:     table,
	}

	for _, o := range opts {
		o(b)
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	b.encoder = NewEncoder(table)

	return b
}

// Connect connects to the configured remote address.
// The returned promise completes with the *Channel; see ChannelOf.
func (b *Bootstrap) Connect(ctx context.Context) *future.Promise {
	res, _ := b.table.Invoke(ctx, MethodConnect, b, nil, func(ctx context.Context) (any, error) {
		return b.ConnectTo(ctx, b.remote), nil
	})

	return res.(*future.Promise)
}

// ConnectTo connects to remote from the configured local address.
func (b *Bootstrap) ConnectTo(ctx context.Context, remote string) *future.Promise {
	res, _ := b.table.Invoke(ctx, MethodConnectTo, b, []any{remote}, func(ctx context.Context) (any, error) {
		return b.ConnectFrom(ctx, remote, b.local), nil
	})

	return res.(*future.Promise)
}

// ConnectFrom connects to remote from local. Dialing happens on its own goroutine;
// the promise completes there and notifies its listeners on the channel's loop.
// Cancelling ctx aborts a dial still in progress.
func (b *Bootstrap) ConnectFrom(ctx context.Context, remote, local string) *future.Promise {
	res, _ := b.table.Invoke(ctx, MethodConnectFrom, b, []any{remote, local}, func(ctx context.Context) (any, error) {
		return b.connect(ctx, remote, local), nil
	})

	return res.(*future.Promise)
}

func (b *Bootstrap) connect(ctx context.Context, remote, local string) *future.Promise {
	loop := b.group.Next()
	p := future.New(loop, b.table, b.logger)

	if remote == "" {
		p.TryFailure(ctx, fmt.Errorf("connect: %w", berr.ErrRemoteRequired))
		return p
	}

	ch := newChannel(b, loop, remote, local)

	go b.dial(trace.Detach(ctx), ch, p)

	return p
}

func (b *Bootstrap) dial(ctx context.Context, ch *Channel, p *future.Promise) {
	conn, err := b.transport.Dial(ctx, ch.remote, ch.local)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("connect %s: %w", ch.remote, errors.Join(berr.ErrDialFailed, err))
		}

		p.TryFailure(ctx, err)

		return
	}

	ch.setConn(conn)
	b.logger.Debug("channel connected", "channel", ch.id, "remote", ch.remote)
	p.TrySuccess(ctx, ch)
}

// ChannelOf returns the channel a completed connect promise produced.
func ChannelOf(p *future.Promise) (*Channel, error) {
	if !p.IsDone() {
		return nil, fmt.Errorf("channel of pending connect: %w", berr.ErrNotConnected)
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	ch, ok := p.Result().(*Channel)
	if !ok {
		return nil, fmt.Errorf("channel of %T: %w", p.Result(), berr.ErrNotConnected)
	}

	return ch, nil
}
