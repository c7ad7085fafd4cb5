package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
)

// Observer sees every message on the goroutine calling Send, with the caller's ctx.
type Observer func(ctx context.Context, m cpipe.Message)

// Transport is a thread-safe in-memory implementation of cpipe.Transport.
// It records dials and sent messages for testing and examples. Sends complete on a
// separate goroutine unless the transport is synchronous.
type Transport struct {
	mu       sync.Mutex
	Dials    []string
	Messages []cpipe.Message
	Closed   int

	sync     bool
	dialErr  error
	sendErr  error
	observer Observer

	inflight sync.WaitGroup
}

// Option configures a Transport.
type Option func(*Transport)

// WithSync completes sends on the goroutine calling Send.
func WithSync() Option { return func(t *Transport) { t.sync = true } }

// WithDialError makes every Dial fail with err.
func WithDialError(err error) Option { return func(t *Transport) { t.dialErr = err } }

// WithSendError makes every send complete with err.
func WithSendError(err error) Option { return func(t *Transport) { t.sendErr = err } }

// WithObserver registers fn to see every sent message.
func WithObserver(fn Observer) Option { return func(t *Transport) { t.observer = fn } }

// Ensure Transport implements the contract.
var _ cpipe.Transport = (*Transport)(nil)

// New creates a new in-memory transport.
func New(opts ...Option) *Transport {
	t := &Transport{}
	for _, o := range opts {
		o(t)
	}

	return t
}

// Dial records remote and returns a recording connection.
func (t *Transport) Dial(ctx context.Context, remote, local string) (cpipe.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.Dials = append(t.Dials, remote)
	t.mu.Unlock()

	if t.dialErr != nil {
		return nil, t.dialErr
	}

	return &conn{t: t, remote: remote}, nil
}

// Sent returns a copy of the recorded messages.
func (t *Transport) Sent() []cpipe.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]cpipe.Message(nil), t.Messages...)
}

// Wait blocks until every asynchronous completion has run.
func (t *Transport) Wait() { t.inflight.Wait() }

type conn struct {
	t      *Transport
	remote string
}

func (c *conn) Send(ctx context.Context, m cpipe.Message, done func(error)) {
	t := c.t

	t.mu.Lock()
	t.Messages = append(t.Messages, m)
	t.mu.Unlock()

	if t.observer != nil {
		t.observer(ctx, m)
	}

	var err error
	if t.sendErr != nil {
		err = fmt.Errorf("send to %s: %w", m.Destination, errors.Join(berr.ErrSendFailed, t.sendErr))
	}

	if t.sync {
		done(err)
		return
	}

	t.inflight.Add(1)

	go func() {
		defer t.inflight.Done()

		done(err)
	}()
}

func (c *conn) Close() error {
	c.t.mu.Lock()
	c.t.Closed++
	c.t.mu.Unlock()

	return nil
}
