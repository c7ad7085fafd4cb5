package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	cpipe "github.com/next-trace/scg-async-trace/contract/pipeline"
	"github.com/next-trace/scg-async-trace/eventloop"
	"github.com/next-trace/scg-async-trace/future"
	"github.com/next-trace/scg-async-trace/instrument"
)

// Channel is one connection bound to a single event loop. All I/O on the channel
// is performed by that loop.
type Channel struct {
	id     string
	remote string
	local  string

	loop     *eventloop.Loop
	table    *instrument.Table
	logger   *slog.Logger
	pipeline *Pipeline

	mu     sync.RWMutex
	conn   cpipe.Conn
	closed bool
}

func newChannel(b *Bootstrap, loop *eventloop.Loop, remote, local string) *Channel {
	ch := &Channel{
		id:     uuid.NewString(),
		remote: remote,
		local:  local,
		loop:   loop,
		table:  b.table,
		logger: b.logger,
	}
	ch.pipeline = newPipeline(ch, b.encoder, b.outbound)

	return ch
}

// ID returns the channel's unique id.
func (c *Channel) ID() string { return c.id }

// Remote returns the address the channel was connected to.
func (c *Channel) Remote() string { return c.remote }

// Local returns the local address, empty when none was requested.
func (c *Channel) Local() string { return c.local }

// Loop returns the event loop the channel is bound to.
func (c *Channel) Loop() *eventloop.Loop { return c.loop }

// Pipeline returns the channel's outbound pipeline.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// IsActive reports whether the channel is connected and not closed.
func (c *Channel) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil && !c.closed
}

// NewPromise returns a pending promise notifying on the channel's loop.
func (c *Channel) NewPromise() *future.Promise {
	return future.New(c.loop, c.table, c.logger)
}

// Close fails buffered writes, closes the connection on the loop, and returns a
// promise that completes once the connection is closed.
func (c *Channel) Close(ctx context.Context) *future.Promise {
	p := c.NewPromise()

	task := func(ctx context.Context) {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			p.TrySuccess(ctx, nil)

			return
		}

		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		c.pipeline.failPending(ctx, fmt.Errorf("close %s: %w", c.id, berr.ErrChannelClosed))

		var err error
		if conn != nil {
			err = conn.Close()
		}

		if err != nil {
			p.TryFailure(ctx, fmt.Errorf("close %s: %w", c.id, err))
			return
		}

		p.TrySuccess(ctx, nil)
	}

	if c.loop.InLoop(ctx) {
		task(ctx)
		return p
	}

	if err := c.loop.Execute(task); err != nil {
		p.TryFailure(ctx, err)
	}

	return p
}

func (c *Channel) setConn(conn cpipe.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) state() (cpipe.Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn, c.closed
}
