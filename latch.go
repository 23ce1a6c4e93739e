package rtsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

// BinaryLatch is a single token, created empty. Give fills it, from any
// context, and Take empties it. Giving a full latch fails with ErrRejected,
// so a signal is never counted twice.
//
// A BinaryLatch must be created by NewBinaryLatch, and must not be copied.
type BinaryLatch struct {
	_        noCopy
	sem      kernel.Semaphore
	dispatch Dispatcher
	diag     *diagnostics
	closed   atomic.Bool
}

func NewBinaryLatch(k kernel.Kernel, opts ...Option) (*BinaryLatch, error) {
	const op = `create`
	o, err := resolveOptions(opts)
	if err == nil {
		err = o.slotOnly()
	}
	if err != nil {
		return nil, &OpError{Err: fmt.Errorf("%w: %w", ErrUnusable, err), Primitive: primitiveLatch, Op: op}
	}
	diag := newDiagnostics(primitiveLatch, o)
	if k == nil {
		diag.err(op, `nil_kernel`).Log(`binary latch create failed`)
		return nil, diag.opError(op, fmt.Errorf("%w: %w: nil kernel", ErrUnusable, ErrInvalidArgument))
	}
	sem, ok := k.NewBinary()
	if !ok {
		diag.err(op, `allocation`).Log(`binary latch create failed`)
		return nil, diag.opError(op, fmt.Errorf("%w: kernel semaphore allocation failed", ErrUnusable))
	}
	return &BinaryLatch{
		sem:      sem,
		dispatch: NewDispatcher(k),
		diag:     diag,
	}, nil
}

func (x *BinaryLatch) check(op string) error {
	if x == nil {
		return unusable(primitiveLatch, op)
	}
	if x.closed.Load() {
		x.diag.err(op, `unusable`).Log(`binary latch used after close`)
		return x.diag.opError(op, ErrUnusable)
	}
	return nil
}

// Give fills the latch, failing with ErrRejected if it is already full. It
// may be called from any context.
func (x *BinaryLatch) Give(ctx context.Context) error {
	const op = `give`
	if err := x.check(op); err != nil {
		return err
	}
	interrupt, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, _ kernel.Tick) bool {
			return x.sem.Give(ctx)
		},
		ISR:     x.sem.GiveFromISR,
		Timeout: NoWait,
		Op:      OpSignal,
	})
	if err != nil {
		x.diag.warning(op, reason(err)).
			Bool(`interrupt`, interrupt).
			Err(err).
			Log(`binary latch give failed`)
		return x.diag.opError(op, err)
	}
	return nil
}

// Take empties the latch, waiting for up to timeout for it to be given. From
// interrupt context, it never blocks, though polling a latch from an
// interrupt is unusual, and is logged.
func (x *BinaryLatch) Take(ctx context.Context, timeout time.Duration) error {
	const op = `take`
	if err := x.check(op); err != nil {
		return err
	}
	interrupt, err := x.dispatch.Dispatch(ctx, Call{
		Task: x.sem.Take,
		ISR: func(ctx context.Context) (ok, woken bool) {
			x.diag.warning(op, `interrupt`).Log(`binary latch take from interrupt`)
			return x.sem.TakeFromISR(ctx)
		},
		Timeout: timeout,
		Op:      OpReceive,
	})
	if err != nil {
		if !interrupt && !errors.Is(err, ErrWouldBlock) {
			x.diag.warning(op, reason(err)).
				Dur(`timeout`, timeout).
				Err(err).
				Log(`binary latch take failed`)
		}
		return x.diag.opError(op, err)
	}
	return nil
}

// TryTake is Take with NoWait.
func (x *BinaryLatch) TryTake(ctx context.Context) error {
	return x.Take(ctx, NoWait)
}

// Close releases the kernel semaphore. It is idempotent. It must not be
// called while another task is blocked on the latch.
func (x *BinaryLatch) Close() error {
	if x != nil && x.closed.CompareAndSwap(false, true) {
		x.sem.Delete()
	}
	return nil
}
