package rtsync

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rtsync/simkernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLatch(t *testing.T, k *simkernel.Kernel, opts ...Option) *BinaryLatch {
	t.Helper()
	l, err := NewBinaryLatch(k, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNewBinaryLatch_invalid(t *testing.T) {
	logs := new(logBuffer)
	_, err := NewBinaryLatch(nil, WithLogger(newTestLogger(logs)))
	assert.ErrorIs(t, err, ErrUnusable)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	require.Len(t, logs.Lines(), 1)
	assert.Contains(t, logs.Lines()[0], `"lvl":"err"`)

	k := newTestKernel(t)
	_, task := adoptTask(t, k, `main`, 1)
	_, err = NewBinaryLatch(k, WithTarget(task))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewBinaryLatch(k, WithMode(ModeBits))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	k = newTestKernel(t, simkernel.WithMaxObjects(1))
	newTestLatch(t, k)
	_, err = NewBinaryLatch(k)
	assert.ErrorIs(t, err, ErrUnusable)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
}

func TestBinaryLatch_giveTake(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := adoptTask(t, k, `main`, 1)
	l := newTestLatch(t, k)

	assert.ErrorIs(t, l.TryTake(ctx), ErrWouldBlock)
	require.NoError(t, l.Give(ctx))
	assert.ErrorIs(t, l.Give(ctx), ErrRejected)
	require.NoError(t, l.TryTake(ctx))
	assert.ErrorIs(t, l.TryTake(ctx), ErrWouldBlock)
}

func TestBinaryLatch_takeBlocksUntilGivenFromInterrupt(t *testing.T) {
	k := newTestKernel(t)
	waiterCtx, _ := adoptTask(t, k, `waiter`, 3)
	idleCtx, _ := adoptTask(t, k, `idle`, 0)
	l := newTestLatch(t, k)

	done := async(func() error { return l.Take(waiterCtx, WaitForever) })
	waitBlocked(t, k, 1)
	requireNotDone(t, done)

	k.Interrupt(idleCtx, func(ctx context.Context) {
		require.NoError(t, l.Give(ctx))
		assert.ErrorIs(t, l.Give(ctx), ErrRejected)
	})
	require.NoError(t, receive(t, done))
	assert.Equal(t, uint64(1), k.YieldRequests())

	// the second give was rejected, not counted
	assert.ErrorIs(t, l.TryTake(waiterCtx), ErrWouldBlock)
}

func TestBinaryLatch_takeTimeout(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := adoptTask(t, k, `main`, 1)
	logs := new(logBuffer)
	l := newTestLatch(t, k, WithLogger(newTestLogger(logs)), WithName(`start`))

	done := async(func() error { return l.Take(ctx, 10*time.Millisecond) })
	waitBlocked(t, k, 1)
	k.Advance(9)
	requireNotDone(t, done)
	k.Advance(1)

	err := receive(t, done)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrWouldBlock)
	assert.EqualError(t, err, `binary_latch "start": take: rtsync: timeout`)

	lines := logs.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"reason":"timeout"`)
	assert.Contains(t, lines[0], `"name":"start"`)
}

func TestBinaryLatch_takeFromInterrupt(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := adoptTask(t, k, `main`, 1)
	logs := new(logBuffer)
	l := newTestLatch(t, k, WithLogger(newTestLogger(logs)))

	k.Interrupt(ctx, func(ctx context.Context) {
		assert.ErrorIs(t, l.Take(ctx, WaitForever), ErrWouldBlock)
		require.NoError(t, l.Give(ctx))
		require.NoError(t, l.Take(ctx, WaitForever))
	})
	assert.Equal(t, 0, k.Blocked())

	lines := logs.Lines()
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.Contains(t, line, `"reason":"interrupt"`)
	}
}

func TestBinaryLatch_canceled(t *testing.T) {
	k := newTestKernel(t)
	ctx, _ := adoptTask(t, k, `main`, 1)
	ctx, cancel := context.WithCancel(ctx)
	l := newTestLatch(t, k)

	done := async(func() error { return l.Take(ctx, WaitForever) })
	waitBlocked(t, k, 1)
	cancel()
	assert.ErrorIs(t, receive(t, done), context.Canceled)
}

func TestBinaryLatch_closed(t *testing.T) {
	k := newTestKernel(t, simkernel.WithMaxObjects(1))
	ctx, _ := adoptTask(t, k, `main`, 1)
	l := newTestLatch(t, k)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Equal(t, 0, k.Objects())
	assert.ErrorIs(t, l.Give(ctx), ErrUnusable)
	assert.ErrorIs(t, l.TryTake(ctx), ErrUnusable)

	var nilLatch *BinaryLatch
	assert.ErrorIs(t, nilLatch.Give(ctx), ErrUnusable)
	assert.NoError(t, nilLatch.Close())

	// the object was released
	newTestLatch(t, k)
}
