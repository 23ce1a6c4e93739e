package rtsync

import (
	"errors"
	"fmt"
)

var (
	// ErrUnusable indicates the primitive was never successfully
	// constructed, or has been closed.
	ErrUnusable = errors.New(`rtsync: primitive unusable`)

	// ErrTimeout indicates a blocking operation's budget ran out.
	ErrTimeout = errors.New(`rtsync: timeout`)

	// ErrWouldBlock indicates a non-blocking attempt (including any attempt
	// from interrupt context) failed. It wraps ErrTimeout.
	ErrWouldBlock = fmt.Errorf("%w: would block", ErrTimeout)

	// ErrInterruptContext indicates the operation may not be called from
	// interrupt context.
	ErrInterruptContext = errors.New(`rtsync: not permitted in interrupt context`)

	// ErrModeConflict indicates a NotificationSlot operation of the mode
	// other than the one the slot is locked to.
	ErrModeConflict = errors.New(`rtsync: notification mode conflict`)

	// ErrBinding is wrapped by all NotificationSlot binding violations.
	ErrBinding = errors.New(`rtsync: binding violation`)

	// ErrNotBound indicates the slot has no target task.
	ErrNotBound = fmt.Errorf("%w: not bound", ErrBinding)

	// ErrNotOwner indicates a receive-side call from a task other than the
	// one the slot is bound to.
	ErrNotOwner = fmt.Errorf("%w: not owner", ErrBinding)

	// ErrAlreadyBound indicates an attempt to rebind a bound slot.
	ErrAlreadyBound = fmt.Errorf("%w: already bound", ErrBinding)

	// ErrRejected indicates the kernel refused the operation, e.g. giving an
	// already full latch, or unlocking a lock held by another task.
	ErrRejected = errors.New(`rtsync: rejected`)

	// ErrInvalidArgument indicates an argument the operation cannot accept.
	ErrInvalidArgument = errors.New(`rtsync: invalid argument`)
)

// OpError describes a failed operation. Err is always non-nil, and is
// usually one of the sentinel errors of this package, or a context error.
type OpError struct {
	Err error
	// Primitive is the kind of primitive, e.g. "channel".
	Primitive string
	// Name is the name given via WithName, if any.
	Name string
	Op   string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Name != `` {
		return fmt.Sprintf("%s %q: %s: %v", e.Primitive, e.Name, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Primitive, e.Op, e.Err)
}

// Unwrap returns the underlying error, for use with [errors.Is] and
// [errors.As].
func (e *OpError) Unwrap() error {
	return e.Err
}
