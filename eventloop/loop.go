// Package eventloop runs tasks on long-lived goroutines, each owning one execution
// unit. Pipelines and promises bound to a loop complete and notify listeners there,
// so one loop multiplexes many unrelated operations.
package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	berr "github.com/next-trace/scg-async-trace/contract/errors"
	"github.com/next-trace/scg-async-trace/trace"
)

// Task runs on the loop goroutine with a context bound to the loop's unit.
type Task func(ctx context.Context)

// Loop is a single goroutine draining an unbounded FIFO task queue.
// Execute is safe for concurrent use; tasks never run concurrently with each other.
type Loop struct {
	unit   *trace.Unit
	base   context.Context
	logger *slog.Logger

	mu     sync.Mutex
	tasks  []Task
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New starts a loop named name.
func New(name string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	u := trace.NewUnit(name)
	l := &Loop{
		unit:   u,
		base:   trace.WithUnit(context.Background(), u),
		logger: logger.With("loop", name),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go l.run()

	return l
}

// Unit returns the loop's execution unit.
func (l *Loop) Unit() *trace.Unit { return l.unit }

// InLoop reports whether ctx belongs to this loop's goroutine.
func (l *Loop) InLoop(ctx context.Context) bool {
	u, ok := trace.UnitFrom(ctx)
	return ok && u == l.unit
}

// Execute queues task. It never blocks, so it is safe to call from the loop itself.
func (l *Loop) Execute(task func(ctx context.Context)) error {
	if task == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("execute on %s: %w", l.unit.Name(), berr.ErrLoopClosed)
	}

	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return nil
}

// Close stops accepting tasks, runs the ones already queued, and waits for the loop to exit.
// It must not be called from a task running on the same loop.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done

		return nil
	}

	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	<-l.done

	return nil
}

func (l *Loop) run() {
	defer close(l.done)

	for range l.wake {
		for {
			l.mu.Lock()
			batch := l.tasks
			l.tasks = nil
			closed := l.closed
			l.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}

				break
			}

			for _, t := range batch {
				l.safeRun(t)
			}
		}
	}
}

func (l *Loop) safeRun(t Task) {
	slot := l.unit.Slot()
	mark := slot.Mark()
	depth := slot.Depth()

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", r)
		}

		// A task must not leave context behind for the next, unrelated task.
		if slot.Depth() != depth {
			l.logger.Warn("event loop task leaked active context", "depth", slot.Depth()-depth)
			slot.Restore(mark)
		}
	}()

	t(l.base)
}
