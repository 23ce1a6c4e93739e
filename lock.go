package rtsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

type (
	// ExclusiveLock is a mutex owned by the task that locked it. It may only
	// be used from task context.
	//
	// An ExclusiveLock must be created by NewExclusiveLock, and must not be
	// copied.
	ExclusiveLock struct {
		_        noCopy
		mu       kernel.Mutex
		dispatch Dispatcher
		diag     *diagnostics
		closed   atomic.Bool
	}

	// Guard holds an ExclusiveLock, if acquisition succeeded, until
	// Release. See ExclusiveLock.Guard.
	Guard struct {
		lock     *ExclusiveLock
		ctx      context.Context
		err      error
		released atomic.Bool
	}
)

func NewExclusiveLock(k kernel.Kernel, opts ...Option) (*ExclusiveLock, error) {
	const op = `create`
	o, err := resolveOptions(opts)
	if err == nil {
		err = o.slotOnly()
	}
	if err != nil {
		return nil, &OpError{Err: fmt.Errorf("%w: %w", ErrUnusable, err), Primitive: primitiveLock, Op: op}
	}
	diag := newDiagnostics(primitiveLock, o)
	if k == nil {
		diag.err(op, `nil_kernel`).Log(`exclusive lock create failed`)
		return nil, diag.opError(op, fmt.Errorf("%w: %w: nil kernel", ErrUnusable, ErrInvalidArgument))
	}
	mu, ok := k.NewMutex()
	if !ok {
		diag.err(op, `allocation`).Log(`exclusive lock create failed`)
		return nil, diag.opError(op, fmt.Errorf("%w: kernel mutex allocation failed", ErrUnusable))
	}
	return &ExclusiveLock{
		mu:       mu,
		dispatch: NewDispatcher(k),
		diag:     diag,
	}, nil
}

func (x *ExclusiveLock) check(ctx context.Context, op string) error {
	if x == nil {
		return unusable(primitiveLock, op)
	}
	if x.closed.Load() {
		x.diag.err(op, `unusable`).Log(`exclusive lock used after close`)
		return x.diag.opError(op, ErrUnusable)
	}
	if x.dispatch.InInterrupt(ctx) {
		x.diag.err(op, reason(ErrInterruptContext)).Log(`exclusive lock not permitted in interrupt`)
		return x.diag.opError(op, ErrInterruptContext)
	}
	return nil
}

// Lock acquires the lock, waiting for up to timeout. The lock is not
// recursive.
func (x *ExclusiveLock) Lock(ctx context.Context, timeout time.Duration) error {
	const op = `lock`
	if err := x.check(ctx, op); err != nil {
		return err
	}
	_, err := x.dispatch.Dispatch(ctx, Call{
		Task:    x.mu.Take,
		Timeout: timeout,
		Op:      OpWait,
	})
	if err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			x.diag.warning(op, reason(err)).
				Dur(`timeout`, timeout).
				Err(err).
				Log(`exclusive lock acquisition failed`)
		}
		return x.diag.opError(op, err)
	}
	return nil
}

// TryLock is Lock with NoWait.
func (x *ExclusiveLock) TryLock(ctx context.Context) error {
	return x.Lock(ctx, NoWait)
}

// Unlock releases the lock, failing with ErrRejected if the caller does not
// hold it.
func (x *ExclusiveLock) Unlock(ctx context.Context) error {
	const op = `unlock`
	if err := x.check(ctx, op); err != nil {
		return err
	}
	_, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, _ kernel.Tick) bool {
			return x.mu.Give(ctx)
		},
		Timeout: NoWait,
		Op:      OpSignal,
	})
	if err != nil {
		x.diag.warning(op, reason(err)).Err(err).Log(`exclusive lock release failed`)
		return x.diag.opError(op, err)
	}
	return nil
}

// Guard attempts to acquire the lock, returning a Guard that holds it if
// that succeeded. The Guard must be released, typically via defer, which
// unlocks exactly once, and only if the lock was acquired.
//
//	g := lock.Guard(ctx, 10*time.Millisecond)
//	defer g.Release()
//	if err := g.Err(); err != nil {
//		return err
//	}
func (x *ExclusiveLock) Guard(ctx context.Context, timeout time.Duration) *Guard {
	g := &Guard{ctx: ctx}
	if g.err = x.Lock(ctx, timeout); g.err == nil {
		g.lock = x
	}
	return g
}

// Do runs fn while holding the lock, acquired with timeout. The lock is
// released however fn exits, including by panic.
func (x *ExclusiveLock) Do(ctx context.Context, timeout time.Duration, fn func() error) (err error) {
	g := x.Guard(ctx, timeout)
	if err = g.Err(); err != nil {
		return err
	}
	defer func() {
		if releaseErr := g.Release(); err == nil {
			err = releaseErr
		}
	}()
	return fn()
}

// Close releases the kernel mutex. It is idempotent. It must not be called
// while the lock is held or waited on.
func (x *ExclusiveLock) Close() error {
	if x != nil && x.closed.CompareAndSwap(false, true) {
		x.mu.Delete()
	}
	return nil
}

// Locked reports whether the guard holds the lock.
func (g *Guard) Locked() bool {
	return g != nil && g.lock != nil && !g.released.Load()
}

// Err returns the error from acquisition, if any.
func (g *Guard) Err() error {
	if g == nil {
		return unusable(primitiveLock, `lock`)
	}
	return g.err
}

// Release unlocks, if the guard holds the lock. Only the first call has any
// effect.
func (g *Guard) Release() error {
	if g == nil || g.lock == nil || !g.released.CompareAndSwap(false, true) {
		return nil
	}
	return g.lock.Unlock(g.ctx)
}
