package rtsync

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
	"github.com/joeycumines/go-rtsync/simkernel"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

func newTestKernel(t *testing.T, opts ...simkernel.Option) *simkernel.Kernel {
	t.Helper()
	k, err := simkernel.New(append([]simkernel.Option{simkernel.WithManualTicks()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func adoptTask(t *testing.T, k *simkernel.Kernel, name string, priority int) (context.Context, *simkernel.Task) {
	t.Helper()
	ctx, task, release, err := k.Adopt(context.Background(), name, priority)
	require.NoError(t, err)
	t.Cleanup(release)
	return ctx, task
}

func waitBlocked(t *testing.T, k *simkernel.Kernel, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return k.Blocked() == n }, 2*time.Second, time.Millisecond)
}

// async runs fn on a goroutine, returning a channel receiving its result.
func async[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() { ch <- fn() }()
	return ch
}

func requireNotDone[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected result: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal(`timed out waiting for result`)
		panic(`unreachable`)
	}
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *logBuffer) Write(b []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(b)
}

func (x *logBuffer) Lines() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	s := strings.TrimSpace(x.buf.String())
	if s == `` {
		return nil
	}
	return strings.Split(s, "\n")
}

func newTestLogger(w *logBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}

// fakeClock is a kernel.Clock with a fixed conversion.
type fakeClock struct {
	tick      kernel.Tick
	msToTicks func(ms uint32) kernel.Tick
}

func (x *fakeClock) TickCount() kernel.Tick { return x.tick }

func (x *fakeClock) MillisToTicks(ms uint32) kernel.Tick {
	if x.msToTicks != nil {
		return x.msToTicks(ms)
	}
	return kernel.Tick(ms)
}
