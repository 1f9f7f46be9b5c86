// Package worker runs jobs on per-key goroutines that share a concurrency limit.
// Jobs with the same key run one at a time, in submission order.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// StartOptions configures one worker loop started by Start
type StartOptions[J any] struct {
	Ctx    context.Context
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
	// Done is called once the loop exits
	Done func()
}

// Start consumes Jobs until the channel closes or Ctx ends.
// Each job holds one Sem slot while it runs.
func Start[J any](opts StartOptions[J]) {
	go func() {
		if opts.Done != nil {
			defer opts.Done()
		}
		for {
			select {
			case <-opts.Ctx.Done():
				return
			case job, ok := <-opts.Jobs:
				if !ok {
					return
				}
				select {
				case opts.Sem <- struct{}{}:
				case <-opts.Ctx.Done():
					return
				}
				func() {
					defer func() { <-opts.Sem }()
					opts.Handle(opts.Ctx, job)
				}()
			}
		}
	}()
}

// Enqueue blocks until job is queued or either context ends
func Enqueue[J any](ctx, workersCtx context.Context, jobs chan<- J, job J) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case jobs <- job:
		return nil
	}
}

// Pool lazily starts one worker per key
type Pool[K comparable, J any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	depth  int
	handle func(context.Context, J)
	log    *logger.Logger

	mu      sync.Mutex
	workers map[K]chan J
	wg      sync.WaitGroup
}

// NewPool creates a pool running at most concurrency jobs at once.
// depth is the per-key queue length.
func NewPool[K comparable, J any](ctx context.Context, concurrency, depth int, handle func(context.Context, J)) *Pool[K, J] {
	if concurrency < 1 {
		concurrency = 1
	}
	if depth < 1 {
		depth = 16
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool[K, J]{
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, concurrency),
		depth:   depth,
		handle:  handle,
		log:     logger.Named("worker"),
		workers: make(map[K]chan J),
	}
}

// Submit queues job on key's worker, starting it if needed
func (p *Pool[K, J]) Submit(ctx context.Context, key K, job J) error {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return p.ctx.Err()
	}
	jobs, ok := p.workers[key]
	if !ok {
		jobs = make(chan J, p.depth)
		p.workers[key] = jobs
		p.wg.Add(1)
		Start(StartOptions[J]{
			Ctx:    p.ctx,
			Sem:    p.sem,
			Jobs:   jobs,
			Handle: p.safeHandle(key),
			Done:   p.wg.Done,
		})
	}
	p.mu.Unlock()

	return Enqueue(ctx, p.ctx, jobs, job)
}

func (p *Pool[K, J]) safeHandle(key K) func(context.Context, J) {
	return func(ctx context.Context, job J) {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().
					Str("key", fmt.Sprint(key)).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("job panicked")
			}
		}()
		p.handle(ctx, job)
	}
}

// Size returns the number of started workers
func (p *Pool[K, J]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Close stops accepting jobs and waits for running ones.
// Jobs still queued are dropped.
func (p *Pool[K, J]) Close() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}
