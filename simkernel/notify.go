package simkernel

import (
	"context"

	"github.com/joeycumines/go-rtsync/kernel"
)

type notifyState uint8

const (
	notifyNotWaiting notifyState = iota
	notifyWaiting
	notifyReceived
)

// task resolves a kernel.Task belonging to this kernel.
func (k *Kernel) task(task kernel.Task) *Task {
	if t, ok := task.(*Task); ok && t != nil && t.k == k {
		return t
	}
	return nil
}

// current resolves the calling task, logging if there is none.
func (k *Kernel) current(ctx context.Context, op string) *Task {
	t := fromContext(ctx).task
	if t == nil {
		k.logger.Warning().Str(`op`, op).Log(`simkernel: notification wait outside of a task`)
	}
	return t
}

// notify must be called with k.mu held.
func (k *Kernel) notify(t *Task, value uint32, action kernel.NotifyAction) *waiter {
	switch action {
	case kernel.NotifySetBits:
		t.notifyValue |= value
	case kernel.NotifyIncrement:
		t.notifyValue++
	}
	t.notifyState = notifyReceived
	return k.wakeOne(&t.notifyWaiters)
}

// Notify implements kernel.Kernel.
func (k *Kernel) Notify(_ context.Context, task kernel.Task, value uint32, action kernel.NotifyAction) bool {
	t := k.task(task)
	if t == nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.notify(t, value, action)
	return true
}

// NotifyFromISR implements kernel.Kernel.
func (k *Kernel) NotifyFromISR(ctx context.Context, task kernel.Task, value uint32, action kernel.NotifyAction) (ok, woken bool) {
	t := k.task(task)
	if t == nil {
		return false, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return true, k.woken(ctx, k.notify(t, value, action))
}

// NotifyTake implements kernel.Kernel.
func (k *Kernel) NotifyTake(ctx context.Context, clearOnExit bool, ticks kernel.Tick) uint32 {
	t := k.current(ctx, `notify_take`)
	if t == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	var prior uint32
	k.block(ctx, nil, &t.notifyWaiters, ticks, func() bool {
		if t.notifyValue == 0 {
			return false
		}
		prior = t.notifyValue
		if clearOnExit {
			t.notifyValue = 0
		} else {
			t.notifyValue--
		}
		return true
	})
	t.notifyState = notifyNotWaiting
	return prior
}

// NotifyWait implements kernel.Kernel.
func (k *Kernel) NotifyWait(ctx context.Context, clearOnEntry, clearOnExit uint32, ticks kernel.Tick) (uint32, bool) {
	t := k.current(ctx, `notify_wait`)
	if t == nil {
		return 0, false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.notifyState != notifyReceived {
		t.notifyValue &^= clearOnEntry
		t.notifyState = notifyWaiting
	}
	ok := k.block(ctx, nil, &t.notifyWaiters, ticks, func() bool {
		return t.notifyState == notifyReceived
	})
	value := t.notifyValue
	if ok {
		t.notifyValue &^= clearOnExit
	}
	t.notifyState = notifyNotWaiting
	return value, ok
}

// NotifyValueClear implements kernel.Kernel.
func (k *Kernel) NotifyValueClear(_ context.Context, task kernel.Task, bits uint32) uint32 {
	t := k.task(task)
	if t == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	prior := t.notifyValue
	t.notifyValue &^= bits
	return prior
}
