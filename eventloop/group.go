package eventloop

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Group is a fixed set of loops handed out round robin.
type Group struct {
	loops []*Loop
	next  atomic.Uint64
}

// NewGroup starts n loops (at least one).
func NewGroup(n int, logger *slog.Logger) *Group {
	if n < 1 {
		n = 1
	}

	g := &Group{loops: make([]*Loop, n)}
	for i := range g.loops {
		g.loops[i] = New(fmt.Sprintf("loop-%d", i), logger)
	}

	return g
}

// Next returns the next loop.
func (g *Group) Next() *Loop {
	i := g.next.Add(1) - 1
	return g.loops[i%uint64(len(g.loops))]
}

// Loops returns the group's loops.
func (g *Group) Loops() []*Loop { return append([]*Loop(nil), g.loops...) }

// Close closes every loop.
func (g *Group) Close() error {
	var errs []error

	for _, l := range g.loops {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
