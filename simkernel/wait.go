package simkernel

import (
	"context"

	"github.com/joeycumines/go-rtsync/kernel"
	"golang.org/x/exp/slices"
)

type (
	// waiter is a caller parked in a waitList. The channel is buffered, so
	// a signal is never lost between release of the lock and the select.
	waiter struct {
		ch       chan struct{}
		list     *waitList
		priority int
		start    kernel.Tick
		ticks    kernel.Tick
		timed    bool
		parked   bool
		expired  bool
		aborted  bool
	}

	// waitList orders waiters by priority, highest first, FIFO within a
	// priority.
	waitList struct {
		s []*waiter
	}

	// object is embedded by kernel objects, and is guarded by k.mu.
	object struct {
		deleted bool
	}
)

func (x *waiter) signal() {
	select {
	case x.ch <- struct{}{}:
	default:
	}
}

func (x *waiter) drain() {
	select {
	case <-x.ch:
	default:
	}
}

func (x *waitList) push(w *waiter) {
	i := slices.IndexFunc(x.s, func(v *waiter) bool { return v.priority < w.priority })
	if i < 0 {
		i = len(x.s)
	}
	x.s = slices.Insert(x.s, i, w)
}

func (x *waitList) remove(w *waiter) {
	if i := slices.Index(x.s, w); i >= 0 {
		x.s = slices.Delete(x.s, i, i+1)
	}
}

func (x *waitList) len() int { return len(x.s) }

func (k *Kernel) park(list *waitList, w *waiter) {
	w.list = list
	w.parked = true
	list.push(w)
	if w.timed {
		k.timed = append(k.timed, w)
	}
	k.blocked++
}

// detach removes w from its wait list, but not from k.timed.
func (k *Kernel) detach(w *waiter) {
	if !w.parked {
		return
	}
	w.parked = false
	w.list.remove(w)
	w.list = nil
	k.blocked--
}

func (k *Kernel) unpark(w *waiter) {
	if !w.parked {
		return
	}
	k.detach(w)
	if w.timed {
		if i := slices.Index(k.timed, w); i >= 0 {
			k.timed = slices.Delete(k.timed, i, i+1)
		}
	}
}

// wakeOne releases the most urgent waiter in list, returning it, or nil.
func (k *Kernel) wakeOne(list *waitList) *waiter {
	if list.len() == 0 {
		return nil
	}
	w := list.s[0]
	k.unpark(w)
	w.signal()
	return w
}

// wakeAll releases every waiter in list. Aborted waiters give up, instead of
// retrying.
func (k *Kernel) wakeAll(list *waitList, abort bool) {
	for list.len() != 0 {
		w := list.s[0]
		w.aborted = abort
		k.unpark(w)
		w.signal()
	}
}

func priorityOf(ctx context.Context) int {
	if t := fromContext(ctx).task; t != nil {
		return t.priority
	}
	return 0
}

// block calls try, parking the caller on list until try succeeds, the budget
// runs out, ctx is done, or obj is deleted. It must be called with k.mu
// held, and returns with it held. The obj may be nil.
func (k *Kernel) block(ctx context.Context, obj *object, list *waitList, ticks kernel.Tick, try func() bool) bool {
	if obj != nil && obj.deleted {
		return false
	}
	if try() {
		return true
	}
	if ticks == 0 || ctx.Err() != nil {
		return false
	}

	w := &waiter{
		ch:       make(chan struct{}, 1),
		priority: priorityOf(ctx),
		start:    k.TickCount(),
		ticks:    ticks,
		timed:    ticks != kernel.MaxDelay,
	}

	for {
		k.park(list, w)
		k.mu.Unlock()

		select {
		case <-w.ch:
		case <-ctx.Done():
		}

		k.mu.Lock()
		// detached by a signal, rather than by expiry or abort
		signaled := !w.parked && !w.expired && !w.aborted
		k.unpark(w)

		if w.aborted || (obj != nil && obj.deleted) {
			return false
		}
		if ctx.Err() != nil {
			if signaled {
				// pass the wake on, so it is not lost
				k.wakeOne(list)
			}
			return false
		}
		if try() {
			return true
		}
		if w.expired || (w.timed && kernel.Expired(w.start, k.TickCount(), w.ticks)) {
			return false
		}

		// lost the race to another caller, wait again
		w.drain()
	}
}
