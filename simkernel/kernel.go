// Package simkernel implements kernel.Kernel on goroutines, for hosts and
// tests. Tasks are goroutines (or adopted contexts), interrupts are handlers
// run synchronously with an interrupt-marked context, and the tick counter is
// either driven by a time.Ticker, or advanced manually.
//
// All kernel state is guarded by a single mutex, standing in for the
// critical section of a single-core scheduler.
package simkernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/cpu"
)

type (
	// Kernel is a simulated real-time kernel. It must be created by New,
	// and released by Close.
	Kernel struct {
		_ cpu.CacheLinePad
		// tick is read without the lock, by TickCount
		tick atomic.Uint32
		_    cpu.CacheLinePad

		yields atomic.Uint64

		ctx    context.Context
		cancel context.CancelFunc
		logger *logiface.Logger[logiface.Event]
		// anonymous is the identity used for mutex ownership, by callers
		// without a task
		anonymous *Task
		config    Config

		wg sync.WaitGroup

		mu sync.Mutex
		// timed holds parked waiters with a finite budget
		timed   []*waiter
		blocked int
		tasks   int
		objects int
		closed  bool
	}

	ctxKey struct{}

	execContext struct {
		task *Task
		isr  bool
	}
)

var (
	// ErrClosed is returned by methods of a Kernel that has been closed.
	ErrClosed = errors.New(`simkernel: kernel closed`)

	// ErrLimit is returned when a configured limit would be exceeded.
	ErrLimit = errors.New(`simkernel: limit exceeded`)
)

// compile time assertions
var (
	_ kernel.Kernel = (*Kernel)(nil)
	_ kernel.Task   = (*Task)(nil)
)

// New initializes a Kernel, starting its tick goroutine unless configured
// for manual ticks.
func New(opts ...Option) (*Kernel, error) {
	o, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		logger: o.logger,
		config: o.config,
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	k.anonymous = &Task{k: k, name: `anonymous`}
	k.tick.Store(uint32(o.config.InitialTick))
	if !o.config.Manual {
		k.wg.Add(1)
		go k.runTicker()
	}
	k.logger.Debug().
		Dur(`tick_period`, o.config.TickPeriod).
		Bool(`manual`, o.config.Manual).
		Log(`simkernel: started`)
	return k, nil
}

func (k *Kernel) runTicker() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.config.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			k.Advance(1)
		}
	}
}

// Close cancels the context of every spawned task, stops the tick
// goroutine, and waits for both to exit. It is safe to call more than once.
func (k *Kernel) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()
	k.cancel()
	k.wg.Wait()
	k.logger.Debug().Log(`simkernel: closed`)
	return nil
}

// Config returns the configuration the kernel was created with.
func (k *Kernel) Config() Config {
	return k.config
}

// TickCount implements kernel.Clock.
func (k *Kernel) TickCount() kernel.Tick {
	return kernel.Tick(k.tick.Load())
}

// MillisToTicks implements kernel.Clock.
func (k *Kernel) MillisToTicks(ms uint32) kernel.Tick {
	t := uint64(ms) * uint64(time.Millisecond) / uint64(k.config.TickPeriod)
	if t >= uint64(kernel.MaxDelay) {
		return kernel.MaxDelay
	}
	return kernel.Tick(t)
}

// Advance moves the tick counter forward by n, expiring any waiters whose
// budget has run out.
func (k *Kernel) Advance(n kernel.Tick) {
	if n == 0 {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	now := kernel.Tick(k.tick.Add(uint32(n)))
	k.timed = slices.DeleteFunc(k.timed, func(w *waiter) bool {
		if !kernel.Expired(w.start, now, w.ticks) {
			return false
		}
		w.expired = true
		k.detach(w)
		w.signal()
		return true
	})
}

// Blocked returns the number of callers currently parked in a blocking
// call.
func (k *Kernel) Blocked() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.blocked
}

// YieldRequests returns the number of calls to YieldFromISR.
func (k *Kernel) YieldRequests() uint64 {
	return k.yields.Load()
}

// InInterrupt implements kernel.Kernel.
func (k *Kernel) InInterrupt(ctx context.Context) bool {
	return fromContext(ctx).isr
}

// CurrentTask implements kernel.Kernel, returning a *Task, or nil.
func (k *Kernel) CurrentTask(ctx context.Context) kernel.Task {
	if t := fromContext(ctx).task; t != nil {
		return t
	}
	return nil
}

// YieldFromISR implements kernel.Kernel. Context switches are left to the Go
// scheduler, the request is only counted.
func (k *Kernel) YieldFromISR(ctx context.Context) {
	if !k.InInterrupt(ctx) {
		k.logger.Warning().Log(`simkernel: yield requested outside of interrupt`)
	}
	k.yields.Add(1)
}

// Interrupt runs handler synchronously, with a context marked as interrupt
// context. The task associated with ctx, if any, is recorded as the
// interrupted task. Nested interrupts keep the outermost interrupted task.
func (k *Kernel) Interrupt(ctx context.Context, handler func(ctx context.Context)) {
	ec := fromContext(ctx)
	ec.isr = true
	handler(context.WithValue(ctx, ctxKey{}, ec))
}

func fromContext(ctx context.Context) execContext {
	if ctx == nil {
		return execContext{}
	}
	v, _ := ctx.Value(ctxKey{}).(execContext)
	return v
}

// owner returns the identity of the caller, for mutex ownership.
func (k *Kernel) owner(ctx context.Context) *Task {
	if t := fromContext(ctx).task; t != nil {
		return t
	}
	return k.anonymous
}

// woken reports whether releasing w should cause a context switch, on exit
// from the interrupt represented by ctx. Must be called with k.mu held.
func (k *Kernel) woken(ctx context.Context, w *waiter) bool {
	if w == nil {
		return false
	}
	priority := -1
	if t := fromContext(ctx).task; t != nil {
		priority = t.priority
	}
	return w.priority > priority
}

// allocObject reserves an object slot, returning false if the kernel is
// closed, or MaxObjects would be exceeded.
func (k *Kernel) allocObject(kind string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return false
	}
	if k.config.MaxObjects > 0 && k.objects >= k.config.MaxObjects {
		k.logger.Warning().
			Str(`kind`, kind).
			Int(`max_objects`, k.config.MaxObjects).
			Log(`simkernel: object allocation failed`)
		return false
	}
	k.objects++
	return true
}

// Objects returns the number of live kernel objects.
func (k *Kernel) Objects() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.objects
}
