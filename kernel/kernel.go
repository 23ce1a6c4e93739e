// Package kernel defines the port between the rtsync primitives and the
// real-time kernel that actually schedules tasks and owns the underlying
// objects.
//
// Blocking methods accept a tick budget, where 0 means "do not block" and
// [MaxDelay] means "block indefinitely". Methods with the FromISR suffix never
// block, and report whether a task of higher priority than the interrupted
// one was made ready, in which case the caller is expected to request a yield
// via [Kernel.YieldFromISR] before leaving the interrupt.
//
// The execution context (task or interrupt) is carried by the
// [context.Context] passed to each method. How a context is marked is up to
// the implementation, see the simkernel package.
package kernel

import (
	"context"
)

type (
	// Task identifies a schedulable task. Implementations must be comparable,
	// and must return the same value for the same task, as tasks are compared
	// for identity (e.g. to determine the owner of a notification slot).
	Task interface {
		Name() string
		Priority() int
	}

	// Clock exposes the kernel's tick counter and the conversion from
	// milliseconds to ticks.
	Clock interface {
		// TickCount returns the current tick count, which wraps around.
		TickCount() Tick
		// MillisToTicks converts a millisecond duration to ticks, rounding
		// down, saturating at MaxDelay.
		MillisToTicks(ms uint32) Tick
	}

	// Queue is a bounded FIFO of fixed-size items, copied in and out by
	// value.
	Queue interface {
		Send(ctx context.Context, item []byte, pos QueuePosition, ticks Tick) bool
		SendFromISR(ctx context.Context, item []byte, pos QueuePosition) (ok, woken bool)
		// Overwrite replaces the newest item if the queue is full. It is
		// intended for queues of length 1.
		Overwrite(ctx context.Context, item []byte) bool
		OverwriteFromISR(ctx context.Context, item []byte) (ok, woken bool)
		Receive(ctx context.Context, out []byte, ticks Tick) bool
		ReceiveFromISR(ctx context.Context, out []byte) (ok, woken bool)
		MessagesWaiting() int
		MessagesWaitingFromISR() int
		// Reset discards all queued items. It is not safe for use from an
		// interrupt.
		Reset() bool
		// Delete releases the queue. Any blocked callers fail.
		Delete()
	}

	// Semaphore is a binary semaphore, created empty.
	Semaphore interface {
		Give(ctx context.Context) bool
		GiveFromISR(ctx context.Context) (ok, woken bool)
		Take(ctx context.Context, ticks Tick) bool
		TakeFromISR(ctx context.Context) (ok, woken bool)
		Delete()
	}

	// Mutex is a non-recursive mutual exclusion lock, owned by the task that
	// took it. It has no interrupt variants.
	Mutex interface {
		Take(ctx context.Context, ticks Tick) bool
		// Give releases the mutex, failing if the caller is not the owner.
		Give(ctx context.Context) bool
		Delete()
	}

	// Kernel is the set of services the primitives depend on.
	Kernel interface {
		Clock

		// InInterrupt reports whether ctx represents interrupt context.
		InInterrupt(ctx context.Context) bool
		// CurrentTask returns the task associated with ctx, or nil. While in
		// interrupt context, this is the interrupted task, if any.
		CurrentTask(ctx context.Context) Task
		// YieldFromISR requests a context switch on exit from the interrupt.
		YieldFromISR(ctx context.Context)

		NewQueue(length, itemSize int) (Queue, bool)
		NewBinary() (Semaphore, bool)
		NewMutex() (Mutex, bool)

		// Notify updates the notification value of task, per action, and
		// marks a notification as pending.
		Notify(ctx context.Context, task Task, value uint32, action NotifyAction) bool
		NotifyFromISR(ctx context.Context, task Task, value uint32, action NotifyAction) (ok, woken bool)
		// NotifyTake blocks the calling task until its notification value is
		// non-zero, then either clears it (clearOnExit) or decrements it,
		// returning the value prior to that update (0 on timeout).
		NotifyTake(ctx context.Context, clearOnExit bool, ticks Tick) uint32
		// NotifyWait blocks the calling task until a notification is
		// pending. If none is pending on entry, the bits in clearOnEntry are
		// cleared first. On success, the value is returned, before the bits
		// in clearOnExit are cleared. The value is also returned on timeout.
		NotifyWait(ctx context.Context, clearOnEntry, clearOnExit uint32, ticks Tick) (uint32, bool)
		// NotifyValueClear clears bits from the notification value of task,
		// returning the prior value. A bits value of 0 reads the value.
		NotifyValueClear(ctx context.Context, task Task, bits uint32) uint32
	}

	// QueuePosition selects which end of a Queue an item is sent to.
	QueuePosition int

	// NotifyAction selects how Kernel.Notify updates the notification value.
	NotifyAction int
)

const (
	SendToBack QueuePosition = iota
	SendToFront
)

const (
	// NotifyNoAction marks a notification as pending without changing the
	// value.
	NotifyNoAction NotifyAction = iota
	// NotifySetBits ORs the value into the notification value.
	NotifySetBits
	// NotifyIncrement increments the notification value, ignoring the value
	// argument.
	NotifyIncrement
)

func (x QueuePosition) String() string {
	switch x {
	case SendToBack:
		return `back`
	case SendToFront:
		return `front`
	default:
		return `unknown`
	}
}

func (x NotifyAction) String() string {
	switch x {
	case NotifyNoAction:
		return `none`
	case NotifySetBits:
		return `set_bits`
	case NotifyIncrement:
		return `increment`
	default:
		return `unknown`
	}
}
