package rtsync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

// NotifyMode is the way a NotificationSlot is used. A slot starts in
// ModeUnknown, and is locked to the mode of the first operation that implies
// one, after which operations of the other mode fail with ErrModeConflict.
type NotifyMode uint32

const (
	ModeUnknown NotifyMode = iota
	// ModeCounter uses the notification value as a count, see
	// NotificationSlot.Notify.
	ModeCounter
	// ModeBits uses the notification value as a set of event bits, see
	// NotificationSlot.SetBits.
	ModeBits
)

func (x NotifyMode) String() string {
	switch x {
	case ModeUnknown:
		return `unknown`
	case ModeCounter:
		return `counter`
	case ModeBits:
		return `bits`
	default:
		return fmt.Sprintf("NotifyMode(%d)", uint32(x))
	}
}

// WaitFlags modify NotificationSlot.WaitBits.
type WaitFlags uint8

const (
	// ClearOnExit consumes the bits that satisfied the wait.
	ClearOnExit WaitFlags = 1 << iota

	// WaitAll waits for every bit of the mask, rather than any of them.
	WaitAll

	// RestoreOnTimeout puts back, on timeout, any bits of the mask consumed
	// while waiting with ClearOnExit. Without it, a timed out WaitAll may
	// consume some of the bits it was waiting for. Restored bits are
	// delivered as a new notification, so the next wait of the task observes
	// them on its first wake.
	RestoreOnTimeout
)

// NotificationSlot signals a single target task, using the kernel's per-task
// notification value, which the slot references but does not own. Any
// context may signal the target (Notify, SetBits), while only the target
// task itself may wait (Take, TakeAll, WaitBits).
//
// An unbound slot binds to the calling task, on the first wait from task
// context. Once bound, the binding never changes.
//
// A NotificationSlot must be created by NewNotificationSlot, and must not be
// copied.
type NotificationSlot struct {
	_        noCopy
	k        kernel.Kernel
	dispatch Dispatcher
	diag     *diagnostics
	target   atomic.Pointer[taskRef]
	mode     atomic.Uint32
}

type taskRef struct {
	task kernel.Task
}

// NewNotificationSlot creates a slot. WithTarget binds it immediately, and
// WithMode locks its mode.
func NewNotificationSlot(k kernel.Kernel, opts ...Option) (*NotificationSlot, error) {
	o, err := resolveOptions(opts)
	if err == nil && k == nil {
		err = fmt.Errorf("%w: nil kernel", ErrInvalidArgument)
	}
	if err != nil {
		if o != nil {
			newDiagnostics(primitiveSlot, o).err(`create`, reason(err)).Err(err).Log(`notification slot create failed`)
		}
		return nil, &OpError{Err: fmt.Errorf("%w: %w", ErrUnusable, err), Primitive: primitiveSlot, Op: `create`}
	}
	x := &NotificationSlot{
		k:        k,
		dispatch: NewDispatcher(k),
		diag:     newDiagnostics(primitiveSlot, o),
	}
	if o.target != nil {
		x.target.Store(&taskRef{task: o.target})
	}
	x.mode.Store(uint32(o.mode))
	return x, nil
}

// Mode returns the mode the slot is locked to, if any.
func (x *NotificationSlot) Mode() NotifyMode {
	if x == nil {
		return ModeUnknown
	}
	return NotifyMode(x.mode.Load())
}

// Target returns the bound task, or nil.
func (x *NotificationSlot) Target() kernel.Task {
	if x == nil {
		return nil
	}
	if ref := x.target.Load(); ref != nil {
		return ref.task
	}
	return nil
}

// BindTo binds the slot to task. It fails with ErrAlreadyBound if the slot is
// bound, even to the same task.
func (x *NotificationSlot) BindTo(task kernel.Task) error {
	const op = `bind`
	if x == nil {
		return unusable(primitiveSlot, op)
	}
	if task == nil {
		return x.diag.opError(op, fmt.Errorf("%w: nil task", ErrInvalidArgument))
	}
	if !x.target.CompareAndSwap(nil, &taskRef{task: task}) {
		return x.fail(op, ErrAlreadyBound)
	}
	return nil
}

// BindToSelf binds the slot to the calling task. It fails with
// ErrInterruptContext from interrupt context.
func (x *NotificationSlot) BindToSelf(ctx context.Context) error {
	const op = `bind`
	if x == nil {
		return unusable(primitiveSlot, op)
	}
	if x.k.InInterrupt(ctx) {
		return x.fail(op, ErrInterruptContext)
	}
	task := x.k.CurrentTask(ctx)
	if task == nil {
		return x.fail(op, fmt.Errorf("%w: not called from a task", ErrNotBound))
	}
	return x.BindTo(task)
}

func (x *NotificationSlot) fail(op string, err error) error {
	x.diag.warning(op, reason(err)).
		Stringer(`mode`, x.Mode()).
		Err(err).
		Log(`notification slot operation failed`)
	return x.diag.opError(op, err)
}

// lockMode fixes the mode if unknown, reporting whether the slot is (now) in
// mode.
func (x *NotificationSlot) lockMode(mode NotifyMode) bool {
	if x.mode.CompareAndSwap(uint32(ModeUnknown), uint32(mode)) {
		return true
	}
	return NotifyMode(x.mode.Load()) == mode
}

// enter performs the checks common to every mode-implying operation.
func (x *NotificationSlot) enter(op string, mode NotifyMode) error {
	if x == nil {
		return unusable(primitiveSlot, op)
	}
	if !x.lockMode(mode) {
		return x.fail(op, ErrModeConflict)
	}
	return nil
}

func (x *NotificationSlot) sendTarget(op string) (kernel.Task, error) {
	if ref := x.target.Load(); ref != nil {
		return ref.task, nil
	}
	return nil, x.fail(op, ErrNotBound)
}

// receiveTarget resolves the bound task, which must be the caller, binding
// the slot to the caller if it is unbound.
func (x *NotificationSlot) receiveTarget(ctx context.Context, op string) (kernel.Task, error) {
	current := x.k.CurrentTask(ctx)
	ref := x.target.Load()
	if ref == nil {
		if x.k.InInterrupt(ctx) || current == nil {
			return nil, x.fail(op, ErrNotBound)
		}
		x.target.CompareAndSwap(nil, &taskRef{task: current})
		ref = x.target.Load()
	}
	if current == nil || ref.task != current {
		return nil, x.fail(op, ErrNotOwner)
	}
	if x.k.InInterrupt(ctx) {
		return nil, x.fail(op, ErrInterruptContext)
	}
	return ref.task, nil
}

func (x *NotificationSlot) signal(ctx context.Context, op string, mode NotifyMode, value uint32, action kernel.NotifyAction) error {
	if err := x.enter(op, mode); err != nil {
		return err
	}
	target, err := x.sendTarget(op)
	if err != nil {
		return err
	}
	_, err = x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, _ kernel.Tick) bool {
			return x.k.Notify(ctx, target, value, action)
		},
		ISR: func(ctx context.Context) (ok, woken bool) {
			return x.k.NotifyFromISR(ctx, target, value, action)
		},
		Timeout: NoWait,
		Op:      OpSignal,
	})
	if err != nil {
		return x.fail(op, err)
	}
	return nil
}

// Notify increments the target's count, locking the slot to ModeCounter. It
// may be called from any context.
func (x *NotificationSlot) Notify(ctx context.Context) error {
	return x.signal(ctx, `notify`, ModeCounter, 0, kernel.NotifyIncrement)
}

// SetBits ORs mask into the target's pending bits, locking the slot to
// ModeBits. It may be called from any context.
func (x *NotificationSlot) SetBits(ctx context.Context, mask uint32) error {
	return x.signal(ctx, `set_bits`, ModeBits, mask, kernel.NotifySetBits)
}

// Take waits for up to timeout for the count to be non-zero, then decrements
// it by one, locking the slot to ModeCounter. Only the target task may call
// it.
func (x *NotificationSlot) Take(ctx context.Context, timeout time.Duration) error {
	_, err := x.take(ctx, `take`, false, timeout)
	return err
}

// TakeAll waits for up to timeout for the count to be non-zero, then resets
// it, returning the count consumed. It otherwise behaves like Take.
func (x *NotificationSlot) TakeAll(ctx context.Context, timeout time.Duration) (uint32, error) {
	return x.take(ctx, `take_all`, true, timeout)
}

func (x *NotificationSlot) take(ctx context.Context, op string, all bool, timeout time.Duration) (uint32, error) {
	if err := x.enter(op, ModeCounter); err != nil {
		return 0, err
	}
	if _, err := x.receiveTarget(ctx, op); err != nil {
		return 0, err
	}
	var count uint32
	_, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, ticks kernel.Tick) bool {
			count = x.k.NotifyTake(ctx, all, ticks)
			return count != 0
		},
		Timeout: timeout,
		Op:      OpWait,
	})
	if errors.Is(err, ErrWouldBlock) {
		return 0, x.diag.opError(op, err)
	}
	if err != nil {
		return 0, x.fail(op, err)
	}
	return count, nil
}

// WaitBits waits for up to timeout for bits of mask to be set, locking the
// slot to ModeBits. Only the target task may call it. By default, any bit of
// mask satisfies the wait, see WaitAll.
//
// Bits pending on entry count toward the wait. Bits observed on each wake
// accumulate, so a WaitAll may be satisfied by bits set separately, even if
// they were consumed in between. On success, the bits of mask that satisfied
// the wait are returned, and, with ClearOnExit, cleared. On failure, the bits
// of mask observed so far are returned along with the error, see also
// RestoreOnTimeout.
func (x *NotificationSlot) WaitBits(ctx context.Context, mask uint32, timeout time.Duration, flags WaitFlags) (uint32, error) {
	const op = `wait_bits`
	if x == nil {
		return 0, unusable(primitiveSlot, op)
	}
	if mask == 0 {
		return 0, x.diag.opError(op, fmt.Errorf("%w: zero mask", ErrInvalidArgument))
	}
	if err := x.enter(op, ModeBits); err != nil {
		return 0, err
	}
	task, err := x.receiveTarget(ctx, op)
	if err != nil {
		return 0, err
	}

	satisfied := func(bits uint32) bool {
		if flags&WaitAll != 0 {
			return bits&mask == mask
		}
		return bits&mask != 0
	}
	var clearMask uint32
	if flags&ClearOnExit != 0 {
		clearMask = mask
	}

	budget := NewTimeBudget(x.k, timeout)
	// peek, without consuming the pending notification
	accumulated := x.k.NotifyValueClear(ctx, task, 0)
	ticks := budget.Ticks()
	for !satisfied(accumulated) {
		value, ok := x.k.NotifyWait(ctx, 0, clearMask, ticks)
		if !ok {
			return x.waitBitsFailed(ctx, task, accumulated&mask, budget, flags)
		}
		accumulated |= value
		if satisfied(accumulated) {
			break
		}
		var more bool
		if ticks, more = budget.Remaining(); !more {
			return x.waitBitsFailed(ctx, task, accumulated&mask, budget, flags)
		}
	}

	matched := accumulated & mask
	if clearMask != 0 {
		x.k.NotifyValueClear(ctx, task, matched)
	}
	return matched, nil
}

func (x *NotificationSlot) waitBitsFailed(ctx context.Context, task kernel.Task, partial uint32, budget TimeBudget, flags WaitFlags) (uint32, error) {
	const op = `wait_bits`
	if partial != 0 && flags&(ClearOnExit|RestoreOnTimeout) == ClearOnExit|RestoreOnTimeout {
		// bits still pending were never consumed
		if missing := partial &^ x.k.NotifyValueClear(ctx, task, 0); missing != 0 {
			x.k.Notify(ctx, task, missing, kernel.NotifySetBits)
		}
	}
	err := ctx.Err()
	switch {
	case err != nil:
	case budget.Ticks() == 0:
		return partial, x.diag.opError(op, ErrWouldBlock)
	default:
		err = ErrTimeout
	}
	x.diag.warning(op, reason(err)).
		Uint64(`partial`, uint64(partial)).
		Err(err).
		Log(`notification slot wait failed`)
	return partial, x.diag.opError(op, err)
}
