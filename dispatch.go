package rtsync

import (
	"context"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

// Operation is the kind of a dispatched call, which determines the error
// reported when the kernel call fails.
type Operation uint8

const (
	// OpSend may block until there is room.
	OpSend Operation = iota
	// OpReceive may block until there is something to receive.
	OpReceive
	// OpSignal never blocks, failure means the kernel refused it.
	OpSignal
	// OpWait may block until signaled.
	OpWait
)

func (x Operation) String() string {
	switch x {
	case OpSend:
		return `send`
	case OpReceive:
		return `receive`
	case OpSignal:
		return `signal`
	case OpWait:
		return `wait`
	default:
		return `unknown`
	}
}

// Call describes one logical operation, with both of its kernel variants.
type Call struct {
	// Task performs the operation from task context, blocking for at most
	// ticks.
	Task func(ctx context.Context, ticks kernel.Tick) bool

	// ISR performs the operation from interrupt context, reporting if a
	// task of higher priority was woken. A nil ISR means the operation is
	// not permitted in interrupt context.
	ISR func(ctx context.Context) (ok, woken bool)

	Timeout time.Duration
	Op      Operation
}

// Dispatcher routes operations to the task or interrupt variant of a kernel
// call, based on the execution context of the caller. It is safe for
// concurrent use, and is intended for building primitives on the kernel
// port.
type Dispatcher struct {
	k kernel.Kernel
}

func NewDispatcher(k kernel.Kernel) Dispatcher {
	return Dispatcher{k: k}
}

func (x Dispatcher) Kernel() kernel.Kernel { return x.k }

func (x Dispatcher) InInterrupt(ctx context.Context) bool {
	return x.k.InInterrupt(ctx)
}

// Dispatch performs c. From interrupt context, c.Timeout is ignored, c.ISR is
// called, and a yield is requested if it woke a higher priority task.
// Otherwise, c.Task is called with the budget for c.Timeout.
//
// The returned error is nil, ErrInterruptContext, ErrWouldBlock, ErrTimeout,
// ErrRejected (for OpSignal), or the error of ctx. The interrupt result
// reports which path was taken.
func (x Dispatcher) Dispatch(ctx context.Context, c Call) (interrupt bool, err error) {
	if x.k.InInterrupt(ctx) {
		if c.ISR == nil {
			return true, ErrInterruptContext
		}
		ok, woken := c.ISR(ctx)
		if woken {
			x.k.YieldFromISR(ctx)
		}
		if !ok {
			return true, failure(c.Op, 0)
		}
		return true, nil
	}

	ticks := NewTimeBudget(x.k, c.Timeout).Ticks()
	if c.Task(ctx, ticks) {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, failure(c.Op, ticks)
}

func failure(op Operation, ticks kernel.Tick) error {
	switch {
	case op == OpSignal:
		return ErrRejected
	case ticks == 0:
		return ErrWouldBlock
	default:
		return ErrTimeout
	}
}
