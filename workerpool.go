package dabstract

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task reads one result from a source. The executor decides which source
// instance the task receives: the shared graph or a worker's own clone.
type Task[T any] func(ctx context.Context, src Indexable[T]) (T, Info, error)

// Future is the pending result of a submitted Task.
type Future[T any] interface {
	// Await blocks until the task has run and returns its result.
	Await() (T, Info, error)
}

// Executor runs Tasks concurrently. Submit may block while the executor is
// saturated. Close waits for submitted tasks and releases the workers; it
// must be called exactly once, after the last Submit.
type Executor[T any] interface {
	Submit(ctx context.Context, task Task[T]) Future[T]
	Close() error
}

// ExecutorFactory builds the Executor for one bulk retrieval over src.
type ExecutorFactory[T any] func(cfg Config, src Indexable[T]) (Executor[T], error)

// NewExecutor is the default ExecutorFactory. It returns a shared or an
// isolated pool of cfg.Workers workers, according to cfg.Pool.
func NewExecutor[T any](cfg Config, src Indexable[T]) (Executor[T], error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: an executor needs at least one worker (got: %d)", ErrInvalidConfig, cfg.Workers)
	}
	switch cfg.Pool {
	case PoolShared, "":
		return newSharedPool(src, cfg.Workers), nil
	case PoolIsolated:
		return newIsolatedPool(src, cfg.Workers), nil
	default:
		return nil, fmt.Errorf("%w: unknown pool kind %q", ErrInvalidConfig, cfg.Pool)
	}
}

type future[T any] struct {
	done chan struct{}
	item T
	info Info
	err  error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

func (f *future[T]) resolve(item T, info Info, err error) {
	f.item, f.info, f.err = item, info, err
	close(f.done)
}

func (f *future[T]) Await() (T, Info, error) {
	<-f.done
	return f.item, f.info, f.err
}

// run executes task and resolves f, turning a panic into an error.
func run[T any](ctx context.Context, task Task[T], src Indexable[T], f *future[T]) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			f.resolve(zero, nil, wrapError(src.Name(), -1, &panicError{name: src.Name(), value: r}))
		}
	}()
	item, info, err := task(ctx, src)
	f.resolve(item, info, err)
}

// sharedPool runs every task on its own goroutine, at most workers at a
// time, all reading the same source.
type sharedPool[T any] struct {
	src Indexable[T]
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newSharedPool[T any](src Indexable[T], workers int) *sharedPool[T] {
	return &sharedPool[T]{src: src, sem: semaphore.NewWeighted(int64(workers))}
}

func (p *sharedPool[T]) Submit(ctx context.Context, task Task[T]) Future[T] {
	f := newFuture[T]()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			var zero T
			f.resolve(zero, nil, err)
			return
		}
		defer p.sem.Release(1)
		run(ctx, task, p.src, f)
	}()
	return f
}

func (p *sharedPool[T]) Close() error {
	p.wg.Wait()
	return nil
}

type job[T any] struct {
	ctx  context.Context
	task Task[T]
	f    *future[T]
}

// isolatedPool runs a fixed set of workers, each reading its own clone of
// the source. Tasks are handed out through a channel in submission order.
type isolatedPool[T any] struct {
	jobs chan job[T]
	g    errgroup.Group
	once sync.Once
}

func newIsolatedPool[T any](src Indexable[T], workers int) *isolatedPool[T] {
	p := &isolatedPool[T]{jobs: make(chan job[T], workers)}
	for w := 0; w < workers; w++ {
		local := cloneIndexable(src)
		p.g.Go(func() error {
			for j := range p.jobs {
				run(j.ctx, j.task, local, j.f)
			}
			return nil
		})
	}
	return p
}

func (p *isolatedPool[T]) Submit(ctx context.Context, task Task[T]) Future[T] {
	f := newFuture[T]()
	select {
	case p.jobs <- job[T]{ctx: ctx, task: task, f: f}:
	case <-ctx.Done():
		var zero T
		f.resolve(zero, nil, ctx.Err())
	}
	return f
}

func (p *isolatedPool[T]) Close() error {
	p.once.Do(func() { close(p.jobs) })
	return p.g.Wait()
}
