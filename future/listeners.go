package future

import (
	"context"
)

// AddListener registers l. If the promise already completed, l is notified right away.
func (p *Promise) AddListener(ctx context.Context, l Listener) *Promise {
	_, _ = p.table.Invoke(ctx, MethodAddListener, p, []any{l}, func(ctx context.Context) (any, error) {
		p.AddListeners(ctx, l)
		return p, nil
	})

	return p
}

// AddListeners registers ls in order. If the promise already completed, they are notified right away.
func (p *Promise) AddListeners(ctx context.Context, ls ...Listener) *Promise {
	_, _ = p.table.Invoke(ctx, MethodAddListeners, p, []any{ls}, func(ctx context.Context) (any, error) {
		p.addListeners(ctx, ls)
		return p, nil
	})

	return p
}

func (p *Promise) addListeners(ctx context.Context, ls []Listener) {
	p.mu.Lock()
	for _, l := range ls {
		if l != nil {
			p.listeners = append(p.listeners, l)
		}
	}

	completed := p.completed
	p.mu.Unlock()

	if completed {
		p.notifyListeners(ctx)
	}
}

// notifyListeners runs the notification on the promise's executor, inline when
// already there.
func (p *Promise) notifyListeners(ctx context.Context) {
	if p.exec == nil || p.exec.InLoop(ctx) {
		p.notifyListenersNow(ctx)
		return
	}

	if err := p.exec.Execute(p.notifyListenersNow); err != nil {
		p.logger.Warn("listener notification rejected by executor, notifying inline", "error", err)
		p.notifyListenersNow(ctx)
	}
}

func (p *Promise) notifyListenersNow(ctx context.Context) {
	_, _ = p.table.Invoke(ctx, MethodNotifyListenersNow, p, nil, func(ctx context.Context) (any, error) {
		p.drainListeners(ctx)
		return nil, nil
	})
}

func (p *Promise) drainListeners(ctx context.Context) {
	p.mu.Lock()
	if p.notifying || len(p.listeners) == 0 {
		p.mu.Unlock()
		return
	}

	p.notifying = true
	ls := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	for {
		for _, l := range ls {
			p.safeNotify(ctx, l)
		}

		p.mu.Lock()
		if len(p.listeners) == 0 {
			p.notifying = false
			p.mu.Unlock()

			return
		}

		ls = p.listeners
		p.listeners = nil
		p.mu.Unlock()
	}
}

// safeNotify isolates listener panics so the remaining listeners still run.
func (p *Promise) safeNotify(ctx context.Context, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("listener panicked", "panic", r)
		}
	}()

	p.notifyListener0(ctx, l)
}

func (p *Promise) notifyListener0(ctx context.Context, l Listener) {
	_, _ = p.table.Invoke(ctx, MethodNotifyListener0, p, []any{p, l}, func(ctx context.Context) (any, error) {
		l(ctx, p)
		return nil, nil
	})
}
