package driver

import (
	"context"
	"sync"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/channel"
	"github.com/fehuapaya/scrapli/errs"
)

// Pending is the future result of a queued AsyncDriver operation.
type Pending[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

func (p *Pending[T]) resolve(val T, err error) {
	p.val, p.err = val, err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finished or ctx ends. Giving up waiting
// does not stop the operation; cancel the context passed when queuing it.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, errs.Wrap(errs.CodeCancelled, ctx.Err(), "wait cancelled")
	}
}

// AsyncDriver runs one Driver's operations serially on a single worker
// goroutine. Calls return immediately with a Pending result; the queued
// operation receives the caller's context, so cancelling it interrupts the
// in-flight read.
type AsyncDriver struct {
	d *Driver

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewAsync 创建异步驱动并启动工作协程
func NewAsync(d *Driver) *AsyncDriver {
	a := &AsyncDriver{
		d:    d,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Driver returns the wrapped synchronous driver.
func (a *AsyncDriver) Driver() *Driver {
	return a.d
}

func (a *AsyncDriver) run() {
	defer a.wg.Done()
	for {
		a.mu.Lock()
		if len(a.queue) > 0 {
			job := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			job()
			continue
		}
		a.mu.Unlock()

		select {
		case <-a.wake:
		case <-a.quit:
			return
		}
	}
}

// Stop finishes the running operation, fails everything still queued and
// waits for the worker to exit. It does not close the session.
func (a *AsyncDriver) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	pending := a.queue
	a.queue = nil
	close(a.quit)
	a.mu.Unlock()

	for _, job := range pending {
		job()
	}
	a.wg.Wait()
	ylog.Debugf(a.d.module, "[%s] async worker stopped", a.d.id)
}

func errStopped(a *AsyncDriver) error {
	return errs.New(errs.CodeConnectionNotOpened, "async driver for %s is stopped", a.d.Host())
}

// submit queues fn. After Stop, fn never runs and the Pending fails.
func submit[T any](a *AsyncDriver, ctx context.Context, fn func(ctx context.Context) (T, error)) *Pending[T] {
	p := newPending[T]()
	job := func() {
		a.mu.Lock()
		stopped := a.stopped
		a.mu.Unlock()

		var zero T
		if stopped {
			p.resolve(zero, errStopped(a))
			return
		}
		if err := ctx.Err(); err != nil {
			p.resolve(zero, errs.Wrap(errs.CodeCancelled, err, "operation cancelled before it started"))
			return
		}
		p.resolve(fn(ctx))
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		var zero T
		p.resolve(zero, errStopped(a))
		return p
	}
	a.queue = append(a.queue, job)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return p
}

func (a *AsyncDriver) Open(ctx context.Context) *Pending[struct{}] {
	return submit(a, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.d.Open(ctx)
	})
}

func (a *AsyncDriver) Close(ctx context.Context) *Pending[struct{}] {
	return submit(a, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.d.Close(ctx)
	})
}

func (a *AsyncDriver) GetPrompt(ctx context.Context) *Pending[string] {
	return submit(a, ctx, a.d.GetPrompt)
}

func (a *AsyncDriver) DeterminePriv(ctx context.Context) *Pending[string] {
	return submit(a, ctx, a.d.DeterminePriv)
}

func (a *AsyncDriver) AcquirePriv(ctx context.Context, target string) *Pending[struct{}] {
	return submit(a, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.d.AcquirePriv(ctx, target)
	})
}

func (a *AsyncDriver) SendCommand(ctx context.Context, command string, opts ...SendOption) *Pending[*Response] {
	return submit(a, ctx, func(ctx context.Context) (*Response, error) {
		return a.d.SendCommand(ctx, command, opts...)
	})
}

func (a *AsyncDriver) SendCommands(ctx context.Context, commands []string, opts ...SendOption) *Pending[*MultiResponse] {
	return submit(a, ctx, func(ctx context.Context) (*MultiResponse, error) {
		return a.d.SendCommands(ctx, commands, opts...)
	})
}

func (a *AsyncDriver) SendConfigs(ctx context.Context, configs []string, opts ...SendOption) *Pending[*MultiResponse] {
	return submit(a, ctx, func(ctx context.Context) (*MultiResponse, error) {
		return a.d.SendConfigs(ctx, configs, opts...)
	})
}

func (a *AsyncDriver) SendConfig(ctx context.Context, config string, opts ...SendOption) *Pending[*Response] {
	return submit(a, ctx, func(ctx context.Context) (*Response, error) {
		return a.d.SendConfig(ctx, config, opts...)
	})
}

func (a *AsyncDriver) SendInteractive(ctx context.Context, events []channel.InteractiveEvent, opts ...SendOption) *Pending[*Response] {
	return submit(a, ctx, func(ctx context.Context) (*Response, error) {
		return a.d.SendInteractive(ctx, events, opts...)
	})
}

// RegisterConfigurationSession is queued so it never races a running
// operation that reads the graph.
func (a *AsyncDriver) RegisterConfigurationSession(ctx context.Context, name string) *Pending[struct{}] {
	return submit(a, ctx, func(context.Context) (struct{}, error) {
		return struct{}{}, a.d.RegisterConfigurationSession(name)
	})
}
