package rtsync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

// Channel is a bounded FIFO of values of type T, backed by a kernel queue.
// Values are copied in and out by value, encoded as fixed-size items, so T
// must have a fixed size in the sense of [binary.Size]: bools, fixed width
// numbers, and arrays or structs (with exported fields) of those.
//
// A Channel must be created by NewChannel, and must not be copied.
type Channel[T any] struct {
	_        noCopy
	queue    kernel.Queue
	dispatch Dispatcher
	diag     *diagnostics
	itemSize int
	capacity int
	closed   atomic.Bool
}

// NewChannel allocates a channel holding at most capacity values. It fails
// with ErrUnusable, wrapping ErrInvalidArgument if capacity is not positive
// or T is not fixed-size, or if the kernel allocation fails.
func NewChannel[T any](k kernel.Kernel, capacity int, opts ...Option) (*Channel[T], error) {
	const op = `create`

	o, err := resolveOptions(opts)
	if err == nil {
		err = o.slotOnly()
	}
	if err != nil {
		return nil, &OpError{Err: fmt.Errorf("%w: %w", ErrUnusable, err), Primitive: primitiveChannel, Op: op}
	}
	diag := newDiagnostics(primitiveChannel, o)

	fail := func(reason string, err error) (*Channel[T], error) {
		diag.err(op, reason).
			Int(`capacity`, capacity).
			Str(`type`, fmt.Sprintf("%T", *new(T))).
			Log(`channel create failed`)
		return nil, diag.opError(op, fmt.Errorf("%w: %w", ErrUnusable, err))
	}

	if k == nil {
		return fail(`nil_kernel`, fmt.Errorf("%w: nil kernel", ErrInvalidArgument))
	}
	if capacity <= 0 {
		return fail(`capacity`, fmt.Errorf("%w: capacity must be positive: %d", ErrInvalidArgument, capacity))
	}
	size := itemSize[T]()
	if size < 0 {
		return fail(`item_type`, fmt.Errorf("%w: item type is not fixed-size: %T", ErrInvalidArgument, *new(T)))
	}
	queue, ok := k.NewQueue(capacity, size)
	if !ok {
		return fail(`allocation`, errors.New(`kernel queue allocation failed`))
	}

	return &Channel[T]{
		queue:    queue,
		dispatch: NewDispatcher(k),
		diag:     diag,
		itemSize: size,
		capacity: capacity,
	}, nil
}

// itemSize returns the encoded size of T, or -1 if it is not fixed-size.
func itemSize[T any]() int {
	t := reflect.TypeFor[T]()
	switch t.Kind() {
	case reflect.Slice, reflect.Pointer, reflect.Interface:
		return -1
	}
	if !exportedFields(t) {
		return -1
	}
	return binary.Size(*new(T))
}

// exportedFields reports whether every named struct field reachable in t is
// exported, as required to decode into it.
func exportedFields(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return exportedFields(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			if (f.Name != `_` && !f.IsExported()) || !exportedFields(f.Type) {
				return false
			}
		}
	}
	return true
}

func (x *Channel[T]) encode(value T) ([]byte, error) {
	b := make([]byte, x.itemSize)
	if _, err := binary.Encode(b, binary.LittleEndian, value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return b, nil
}

func (x *Channel[T]) decode(b []byte) (value T, err error) {
	if _, err = binary.Decode(b, binary.LittleEndian, &value); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return
}

func (x *Channel[T]) check(op string) error {
	if x == nil {
		return unusable(primitiveChannel, op)
	}
	if x.closed.Load() {
		x.diag.err(op, `unusable`).Log(`channel used after close`)
		return x.diag.opError(op, ErrUnusable)
	}
	return nil
}

// Push appends value, blocking for up to timeout while the channel is full.
// From interrupt context, it never blocks.
func (x *Channel[T]) Push(ctx context.Context, value T, timeout time.Duration) error {
	return x.send(ctx, `push`, value, kernel.SendToBack, timeout)
}

// PushFront inserts value at the front, so it is the next value popped. It
// otherwise behaves like Push.
func (x *Channel[T]) PushFront(ctx context.Context, value T, timeout time.Duration) error {
	return x.send(ctx, `push_front`, value, kernel.SendToFront, timeout)
}

// TryPush is Push with NoWait.
func (x *Channel[T]) TryPush(ctx context.Context, value T) error {
	return x.Push(ctx, value, NoWait)
}

// TryPushFront is PushFront with NoWait.
func (x *Channel[T]) TryPushFront(ctx context.Context, value T) error {
	return x.PushFront(ctx, value, NoWait)
}

func (x *Channel[T]) send(ctx context.Context, op string, value T, pos kernel.QueuePosition, timeout time.Duration) error {
	if err := x.check(op); err != nil {
		return err
	}
	item, err := x.encode(value)
	if err != nil {
		return x.diag.opError(op, err)
	}
	interrupt, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, ticks kernel.Tick) bool {
			return x.queue.Send(ctx, item, pos, ticks)
		},
		ISR: func(ctx context.Context) (ok, woken bool) {
			return x.queue.SendFromISR(ctx, item, pos)
		},
		Timeout: timeout,
		Op:      OpSend,
	})
	if err != nil {
		if interrupt || !errors.Is(err, ErrWouldBlock) {
			x.diag.warning(op, reason(err)).
				Bool(`interrupt`, interrupt).
				Dur(`timeout`, timeout).
				Err(err).
				Log(`channel send failed`)
		}
		return x.diag.opError(op, err)
	}
	return nil
}

// Overwrite replaces the newest value if the channel is full, otherwise it
// appends. It is intended for a channel of capacity 1, holding the latest
// value, where it always succeeds. It never blocks.
func (x *Channel[T]) Overwrite(ctx context.Context, value T) error {
	const op = `overwrite`
	if err := x.check(op); err != nil {
		return err
	}
	item, err := x.encode(value)
	if err != nil {
		return x.diag.opError(op, err)
	}
	interrupt, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, _ kernel.Tick) bool {
			return x.queue.Overwrite(ctx, item)
		},
		ISR: func(ctx context.Context) (ok, woken bool) {
			return x.queue.OverwriteFromISR(ctx, item)
		},
		Timeout: NoWait,
		Op:      OpSend,
	})
	if err != nil {
		x.diag.warning(op, reason(err)).
			Bool(`interrupt`, interrupt).
			Err(err).
			Log(`channel overwrite failed`)
		return x.diag.opError(op, err)
	}
	return nil
}

// Pop removes the front value, blocking for up to timeout while the channel
// is empty. From interrupt context, it never blocks.
func (x *Channel[T]) Pop(ctx context.Context, timeout time.Duration) (value T, err error) {
	const op = `pop`
	if err = x.check(op); err != nil {
		return
	}
	item := make([]byte, x.itemSize)
	interrupt, err := x.dispatch.Dispatch(ctx, Call{
		Task: func(ctx context.Context, ticks kernel.Tick) bool {
			return x.queue.Receive(ctx, item, ticks)
		},
		ISR: func(ctx context.Context) (ok, woken bool) {
			return x.queue.ReceiveFromISR(ctx, item)
		},
		Timeout: timeout,
		Op:      OpReceive,
	})
	if err != nil {
		// an empty channel is routine for a poll, including from interrupts
		if !interrupt && !errors.Is(err, ErrWouldBlock) {
			x.diag.warning(op, reason(err)).
				Dur(`timeout`, timeout).
				Err(err).
				Log(`channel receive failed`)
		}
		return value, x.diag.opError(op, err)
	}
	if value, err = x.decode(item); err != nil {
		return value, x.diag.opError(op, err)
	}
	return value, nil
}

// TryPop is Pop with NoWait.
func (x *Channel[T]) TryPop(ctx context.Context) (T, error) {
	return x.Pop(ctx, NoWait)
}

// Count returns the number of values waiting, or 0 if the channel is
// unusable. It never blocks.
func (x *Channel[T]) Count(ctx context.Context) int {
	if x.check(`count`) != nil {
		return 0
	}
	if x.dispatch.InInterrupt(ctx) {
		return x.queue.MessagesWaitingFromISR()
	}
	return x.queue.MessagesWaiting()
}

// Clear discards all values. It may not be called from interrupt context.
func (x *Channel[T]) Clear(ctx context.Context) error {
	const op = `clear`
	if err := x.check(op); err != nil {
		return err
	}
	if x.dispatch.InInterrupt(ctx) {
		x.diag.warning(op, reason(ErrInterruptContext)).Log(`channel clear not permitted in interrupt`)
		return x.diag.opError(op, ErrInterruptContext)
	}
	if !x.queue.Reset() {
		return x.diag.opError(op, ErrRejected)
	}
	return nil
}

// Cap returns the capacity, or 0 if the channel is unusable.
func (x *Channel[T]) Cap() int {
	if x == nil || x.closed.Load() {
		return 0
	}
	return x.capacity
}

// Close releases the kernel queue. It is idempotent. It must not be called
// while another task is blocked on the channel.
func (x *Channel[T]) Close() error {
	if x != nil && x.closed.CompareAndSwap(false, true) {
		x.queue.Delete()
	}
	return nil
}
