package rtsync

import (
	"context"
	"errors"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// diagnostics emits the log events of one primitive. Events are rate limited
// per category, so a failure repeated in a tight loop (common from
// interrupts) cannot flood the log. A nil *diagnostics is valid, and logs
// nothing.
type diagnostics struct {
	logger    *logiface.Logger[logiface.Event]
	limiter   *catrate.Limiter
	primitive string
	name      string
}

type diagCategory struct {
	op     string
	reason string
}

const (
	primitiveChannel = `channel`
	primitiveSlot    = `notification_slot`
	primitiveLatch   = `binary_latch`
	primitiveLock    = `exclusive_lock`
)

func newDiagnostics(primitive string, opts *primitiveOptions) *diagnostics {
	x := &diagnostics{
		logger:    opts.logger,
		primitive: primitive,
		name:      opts.name,
	}
	if opts.logger != nil && len(opts.logRates) != 0 {
		x.limiter = catrate.NewLimiter(opts.logRates)
	}
	return x
}

func (x *diagnostics) err(op, reason string) *logiface.Builder[logiface.Event] {
	if x == nil {
		return nil
	}
	return x.build(x.logger.Err(), op, reason)
}

func (x *diagnostics) warning(op, reason string) *logiface.Builder[logiface.Event] {
	if x == nil {
		return nil
	}
	return x.build(x.logger.Warning(), op, reason)
}

// build returns nil if b is disabled or the category is over its limit.
func (x *diagnostics) build(b *logiface.Builder[logiface.Event], op, reason string) *logiface.Builder[logiface.Event] {
	if !b.Enabled() {
		return nil
	}
	if x.limiter != nil {
		if _, ok := x.limiter.Allow(diagCategory{op: op, reason: reason}); !ok {
			b.Release()
			return nil
		}
	}
	b = b.Str(`primitive`, x.primitive).
		Str(`op`, op).
		Str(`reason`, reason)
	if x.name != `` {
		b = b.Str(`name`, x.name)
	}
	return b
}

// opError builds the error for a failed operation.
func (x *diagnostics) opError(op string, err error) error {
	e := &OpError{Err: err, Op: op}
	if x != nil {
		e.Primitive = x.primitive
		e.Name = x.name
	}
	return e
}

// reason returns a stable category for err, for rate limiting.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrWouldBlock):
		return `would_block`
	case errors.Is(err, ErrTimeout):
		return `timeout`
	case errors.Is(err, ErrInterruptContext):
		return `interrupt_context`
	case errors.Is(err, ErrModeConflict):
		return `mode_conflict`
	case errors.Is(err, ErrNotBound):
		return `not_bound`
	case errors.Is(err, ErrNotOwner):
		return `not_owner`
	case errors.Is(err, ErrAlreadyBound):
		return `already_bound`
	case errors.Is(err, ErrRejected):
		return `rejected`
	case errors.Is(err, ErrInvalidArgument):
		return `invalid_argument`
	case errors.Is(err, ErrUnusable):
		return `unusable`
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return `canceled`
	default:
		return `error`
	}
}

// unusable returns the error for an operation on a nil or closed primitive.
func unusable(primitive, op string) error {
	return &OpError{Err: ErrUnusable, Primitive: primitive, Op: op}
}
