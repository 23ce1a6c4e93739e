package rtsync

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
	"github.com/joeycumines/go-rtsync/simkernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlot(t *testing.T, k *simkernel.Kernel, opts ...Option) *NotificationSlot {
	t.Helper()
	s, err := NewNotificationSlot(k, opts...)
	require.NoError(t, err)
	return s
}

func TestNotifyMode_String(t *testing.T) {
	assert.Equal(t, `unknown`, ModeUnknown.String())
	assert.Equal(t, `counter`, ModeCounter.String())
	assert.Equal(t, `bits`, ModeBits.String())
	assert.Equal(t, `NotifyMode(7)`, NotifyMode(7).String())
}

func TestNewNotificationSlot_options(t *testing.T) {
	k := newTestKernel(t)
	_, task := adoptTask(t, k, `main`, 1)

	s := newTestSlot(t, k, WithTarget(task), WithMode(ModeBits), WithName(`events`))
	assert.Same(t, task, s.Target())
	assert.Equal(t, ModeBits, s.Mode())

	_, err := NewNotificationSlot(k, WithMode(ModeUnknown))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrUnusable)
	_, err = NewNotificationSlot(k, WithTarget(nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewNotificationSlot(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var nilSlot *NotificationSlot
	assert.ErrorIs(t, nilSlot.Notify(context.Background()), ErrUnusable)
	_, err = nilSlot.WaitBits(context.Background(), 1, NoWait, 0)
	assert.ErrorIs(t, err, ErrUnusable)
	assert.Equal(t, ModeUnknown, nilSlot.Mode())
	assert.Nil(t, nilSlot.Target())
}

func TestNotificationSlot_counter(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	producer, _ := adoptTask(t, k, `producer`, 1)
	s := newTestSlot(t, k)

	require.NoError(t, s.BindToSelf(ctx))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Notify(producer))
	}
	assert.Equal(t, ModeCounter, s.Mode())
	assert.Equal(t, uint32(3), task.NotifyValue())

	for i := 3; i > 0; i-- {
		require.NoError(t, s.Take(ctx, NoWait))
		assert.Equal(t, uint32(i-1), task.NotifyValue())
	}
	assert.ErrorIs(t, s.Take(ctx, NoWait), ErrWouldBlock)
}

func TestNotificationSlot_takeAll(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	s := newTestSlot(t, k, WithTarget(task))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Notify(context.Background()))
	}
	n, err := s.TakeAll(ctx, NoWait)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n)
	assert.Equal(t, uint32(0), task.NotifyValue())

	n, err = s.TakeAll(ctx, NoWait)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, uint32(0), n)
}

func TestNotificationSlot_takeBlocksUntilNotifiedFromInterrupt(t *testing.T) {
	k := newTestKernel(t)
	highCtx, high := adoptTask(t, k, `high`, 5)
	lowCtx, _ := adoptTask(t, k, `low`, 1)
	s := newTestSlot(t, k, WithTarget(high))

	done := async(func() error { return s.Take(highCtx, WaitForever) })
	waitBlocked(t, k, 1)
	k.Interrupt(lowCtx, func(ctx context.Context) {
		require.NoError(t, s.Notify(ctx))
	})
	require.NoError(t, receive(t, done))
	assert.Equal(t, uint64(1), k.YieldRequests())
	assert.Equal(t, uint32(0), high.NotifyValue())
}

func TestNotificationSlot_takeTimeout(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := adoptTask(t, k, `consumer`, 1)
	s := newTestSlot(t, k)

	done := async(func() error { return s.Take(ctx, 50*time.Millisecond) })
	waitBlocked(t, k, 1)
	k.Advance(49)
	requireNotDone(t, done)
	k.Advance(1)
	assert.ErrorIs(t, receive(t, done), ErrTimeout)
}

func TestNotificationSlot_modeConflict(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	logs := new(logBuffer)
	s := newTestSlot(t, k, WithTarget(task), WithLogger(newTestLogger(logs)))

	require.NoError(t, s.Notify(ctx))
	assert.ErrorIs(t, s.SetBits(ctx, 0b1000), ErrModeConflict)
	_, err := s.WaitBits(ctx, 0b1, NoWait, 0)
	assert.ErrorIs(t, err, ErrModeConflict)
	assert.Equal(t, uint32(1), task.NotifyValue())
	assert.Equal(t, ModeCounter, s.Mode())

	lines := logs.Lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"reason":"mode_conflict"`)

	s = newTestSlot(t, k, WithMode(ModeBits))
	assert.ErrorIs(t, s.Notify(ctx), ErrModeConflict)
	assert.ErrorIs(t, s.Take(ctx, NoWait), ErrModeConflict)
	_, err = s.TakeAll(ctx, NoWait)
	assert.ErrorIs(t, err, ErrModeConflict)
	assert.Nil(t, s.Target())
}

func TestNotificationSlot_binding(t *testing.T) {
	k := newTestKernel(t)
	ownerCtx, owner := adoptTask(t, k, `owner`, 1)
	otherCtx, other := adoptTask(t, k, `other`, 1)

	s := newTestSlot(t, k)
	assert.ErrorIs(t, s.Notify(otherCtx), ErrNotBound)
	assert.ErrorIs(t, s.BindTo(nil), ErrInvalidArgument)
	require.NoError(t, s.BindTo(owner))
	assert.ErrorIs(t, s.BindTo(other), ErrAlreadyBound)
	assert.ErrorIs(t, s.BindTo(owner), ErrAlreadyBound)
	assert.ErrorIs(t, s.BindToSelf(otherCtx), ErrBinding)

	require.NoError(t, s.Notify(otherCtx))
	assert.ErrorIs(t, s.Take(otherCtx, NoWait), ErrNotOwner)
	require.NoError(t, s.Take(ownerCtx, NoWait))

	assert.ErrorIs(t, s.BindToSelf(context.Background()), ErrNotBound)
}

func TestNotificationSlot_autoBind(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	otherCtx, _ := adoptTask(t, k, `other`, 1)

	s := newTestSlot(t, k)
	_, err := s.WaitBits(ctx, 0b1, NoWait, 0)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Same(t, task, s.Target())
	assert.Equal(t, ModeBits, s.Mode())

	_, err = s.WaitBits(otherCtx, 0b1, NoWait, 0)
	assert.ErrorIs(t, err, ErrNotOwner)
	require.NoError(t, s.SetBits(otherCtx, 0b1))
	bits, err := s.WaitBits(ctx, 0b1, NoWait, ClearOnExit)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b1), bits)
}

func TestNotificationSlot_interruptReceive(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)

	unbound := newTestSlot(t, k)
	k.Interrupt(ctx, func(ctx context.Context) {
		assert.ErrorIs(t, unbound.Take(ctx, WaitForever), ErrNotBound)
		assert.ErrorIs(t, unbound.BindToSelf(ctx), ErrInterruptContext)
	})
	assert.Nil(t, unbound.Target())

	bound := newTestSlot(t, k, WithTarget(task))
	k.Interrupt(ctx, func(ctx context.Context) {
		require.NoError(t, bound.SetBits(ctx, 0b11))
		_, err := bound.WaitBits(ctx, 0b1, WaitForever, 0)
		assert.ErrorIs(t, err, ErrInterruptContext)
	})
	assert.Equal(t, uint32(0b11), task.NotifyValue())
}

func TestNotificationSlot_waitAllTwoSteps(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 2)
	producer, _ := adoptTask(t, k, `producer`, 1)
	s := newTestSlot(t, k, WithTarget(task))

	type result struct {
		bits uint32
		err  error
	}
	done := async(func() result {
		bits, err := s.WaitBits(ctx, 0b011, WaitForever, WaitAll|ClearOnExit)
		return result{bits, err}
	})
	waitBlocked(t, k, 1)

	require.NoError(t, s.SetBits(producer, 0b001))
	// the waiter consumes the first bit, then waits again
	waitBlocked(t, k, 1)
	requireNotDone(t, done)

	require.NoError(t, s.SetBits(producer, 0b110))
	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, uint32(0b011), r.bits)
	assert.Equal(t, uint32(0b100), task.NotifyValue())
}

func TestNotificationSlot_waitAllTimeout(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		flags   WaitFlags
		pending uint32
	}{
		{`consumed`, WaitAll | ClearOnExit, 0},
		{`restored`, WaitAll | ClearOnExit | RestoreOnTimeout, 0b01},
		{`retained`, WaitAll, 0b01},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := newTestKernel(t)
			ctx, task := adoptTask(t, k, `consumer`, 2)
			s := newTestSlot(t, k, WithTarget(task))

			type result struct {
				bits uint32
				err  error
			}
			done := async(func() result {
				bits, err := s.WaitBits(ctx, 0b11, 100*time.Millisecond, tc.flags)
				return result{bits, err}
			})
			waitBlocked(t, k, 1)
			require.NoError(t, s.SetBits(context.Background(), 0b01))
			waitBlocked(t, k, 1)

			k.Advance(99)
			requireNotDone(t, done)
			k.Advance(1)

			r := receive(t, done)
			assert.ErrorIs(t, r.err, ErrTimeout)
			assert.Equal(t, uint32(0b01), r.bits)
			assert.Equal(t, tc.pending, task.NotifyValue())
		})
	}
}

func TestNotificationSlot_waitAllAcrossWrap(t *testing.T) {
	k := newTestKernel(t, simkernel.WithInitialTick(kernel.MaxDelay-30))
	ctx, task := adoptTask(t, k, `consumer`, 2)
	s := newTestSlot(t, k, WithTarget(task))

	type result struct {
		bits uint32
		err  error
	}
	done := async(func() result {
		bits, err := s.WaitBits(ctx, 0b11, 100*time.Millisecond, WaitAll)
		return result{bits, err}
	})
	waitBlocked(t, k, 1)

	k.Advance(50)
	require.NoError(t, s.SetBits(context.Background(), 0b01))
	waitBlocked(t, k, 1)

	k.Advance(49)
	requireNotDone(t, done)
	k.Advance(1)

	r := receive(t, done)
	assert.ErrorIs(t, r.err, ErrTimeout)
	assert.NotErrorIs(t, r.err, ErrWouldBlock)
	assert.Equal(t, uint32(0b01), r.bits)
	assert.Equal(t, kernel.Tick(69), k.TickCount())
}

func TestNotificationSlot_subMillisecondTimeout(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	logs := new(logBuffer)
	bits := newTestSlot(t, k, WithTarget(task), WithLogger(newTestLogger(logs)))

	_, err := bits.WaitBits(ctx, 0b1, 500*time.Microsecond, 0)
	assert.ErrorIs(t, err, ErrWouldBlock)

	counter := newTestSlot(t, k, WithTarget(task))
	assert.ErrorIs(t, counter.Take(ctx, 500*time.Microsecond), ErrWouldBlock)

	assert.Empty(t, logs.Lines())
}

func TestNotificationSlot_restoreSkipsPendingBits(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	s := newTestSlot(t, k, WithTarget(task))

	// leave 0b01 pending, with the notification itself consumed
	require.NoError(t, s.SetBits(ctx, 0b01))
	_, err := s.WaitBits(ctx, 0b10, NoWait, 0)
	require.ErrorIs(t, err, ErrWouldBlock)
	require.False(t, task.NotifyPending())
	require.Equal(t, uint32(0b01), task.NotifyValue())

	done := async(func() error {
		_, err := s.WaitBits(ctx, 0b11, 10*time.Millisecond, WaitAll|ClearOnExit|RestoreOnTimeout)
		return err
	})
	waitBlocked(t, k, 1)
	k.Advance(10)
	assert.ErrorIs(t, receive(t, done), ErrTimeout)

	assert.Equal(t, uint32(0b01), task.NotifyValue())
	assert.False(t, task.NotifyPending())
}

func TestNotificationSlot_waitAnyPending(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	s := newTestSlot(t, k, WithTarget(task))

	require.NoError(t, s.SetBits(ctx, 0b1010))
	bits, err := s.WaitBits(ctx, 0b0110, NoWait, ClearOnExit)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b0010), bits)
	assert.Equal(t, uint32(0b1000), task.NotifyValue())

	bits, err = s.WaitBits(ctx, 0b0110, NoWait, 0)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, uint32(0), bits)

	_, err = s.WaitBits(ctx, 0, WaitForever, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNotificationSlot_waitAllZeroBudgetPartial(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	s := newTestSlot(t, k, WithTarget(task))

	require.NoError(t, s.SetBits(ctx, 0b01))
	bits, err := s.WaitBits(ctx, 0b11, NoWait, WaitAll|ClearOnExit)
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, uint32(0b01), bits)
}

func TestNotificationSlot_waitCanceled(t *testing.T) {
	k := newTestKernel(t)
	ctx, task := adoptTask(t, k, `consumer`, 1)
	ctx, cancel := context.WithCancel(ctx)
	s := newTestSlot(t, k, WithTarget(task))

	done := async(func() error {
		_, err := s.WaitBits(ctx, 0b1, WaitForever, 0)
		return err
	})
	waitBlocked(t, k, 1)
	cancel()
	assert.ErrorIs(t, receive(t, done), context.Canceled)
}
