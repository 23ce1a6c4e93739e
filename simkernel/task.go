package simkernel

import (
	"context"
	"fmt"
)

// Task is a simulated task, see Kernel.Spawn and Kernel.Adopt.
type Task struct {
	k        *Kernel
	done     chan struct{}
	name     string
	priority int

	// guarded by k.mu
	notifyWaiters waitList
	notifyValue   uint32
	notifyState   notifyState
}

// Name implements kernel.Task.
func (t *Task) Name() string { return t.name }

// Priority implements kernel.Task. Higher values are more urgent.
func (t *Task) Priority() int { return t.priority }

func (t *Task) String() string {
	return fmt.Sprintf("%s(%d)", t.name, t.priority)
}

// Done returns a channel closed once a spawned task's function returns. For
// adopted tasks, it is never closed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until a spawned task's function returns.
func (t *Task) Wait() { <-t.done }

// NotifyValue returns the task's current notification value.
func (t *Task) NotifyValue() uint32 {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.notifyValue
}

// NotifyPending reports whether the task has a notification pending, that
// has not been consumed by a wait.
func (t *Task) NotifyPending() bool {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	return t.notifyState == notifyReceived
}

// Spawn starts fn on a new goroutine, as a task. The context passed to fn
// identifies the task, and is canceled by Close.
func (k *Kernel) Spawn(name string, priority int, fn func(ctx context.Context)) (*Task, error) {
	t, err := k.newTask(name, priority)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(k.ctx, ctxKey{}, execContext{task: t})
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer k.releaseTask(t)
		defer close(t.done)
		fn(ctx)
	}()
	return t, nil
}

// Adopt registers the caller as a task, returning a context identifying it,
// derived from ctx. The task stays registered until the returned release
// function is called. Adopted tasks are not canceled by Close.
func (k *Kernel) Adopt(ctx context.Context, name string, priority int) (context.Context, *Task, func(), error) {
	t, err := k.newTask(name, priority)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx = context.WithValue(ctx, ctxKey{}, execContext{task: t})
	var released bool
	release := func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if !released {
			released = true
			k.tasks--
		}
	}
	return ctx, t, release, nil
}

func (k *Kernel) newTask(name string, priority int) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if k.config.MaxTasks > 0 && k.tasks >= k.config.MaxTasks {
		k.logger.Warning().
			Str(`task`, name).
			Int(`max_tasks`, k.config.MaxTasks).
			Log(`simkernel: task creation failed`)
		return nil, fmt.Errorf("%w: max_tasks %d", ErrLimit, k.config.MaxTasks)
	}
	k.tasks++
	return &Task{
		k:        k,
		done:     make(chan struct{}),
		name:     name,
		priority: priority,
	}, nil
}

func (k *Kernel) releaseTask(*Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tasks--
}
