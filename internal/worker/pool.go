package worker

import (
	"context"
	"log/slog"
	"sync"
)

type task struct {
	name string
	fn   func(ctx context.Context)
}

// Pool runs fire-and-forget side effects (metrics recompute, notification
// dispatch) off the request path. The queue is bounded: when it is full the
// task is dropped and logged rather than blocking a connection handler.
type Pool struct {
	tasks  chan task
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan task, queueSize),
		logger: logger.With("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.execute(t)
	}
}

func (p *Pool) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn(p.ctx)
}

// Submit enqueues a task without blocking. Returns false when the pool is
// saturated or stopped; the caller treats that as a logged-and-lost effect.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	select {
	case p.tasks <- task{name: name, fn: fn}:
		p.mu.Unlock()
		return true
	default:
		p.mu.Unlock()
		p.logger.Warn("task queue full, dropping task", "task", name)
		return false
	}
}

// Stop drains queued tasks and waits for in-flight ones. In-flight work keeps
// its context until the drain completes, matching the rule that disconnection
// cancels no already-triggered writes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
