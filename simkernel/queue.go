package simkernel

import (
	"context"

	"github.com/joeycumines/go-rtsync/internal/ring"
	"github.com/joeycumines/go-rtsync/kernel"
	"golang.org/x/exp/slices"
)

type queue struct {
	object
	k         *Kernel
	items     *ring.Ring[[]byte]
	senders   waitList
	receivers waitList
	itemSize  int
}

var _ kernel.Queue = (*queue)(nil)

// NewQueue implements kernel.Kernel.
func (k *Kernel) NewQueue(length, itemSize int) (kernel.Queue, bool) {
	if length <= 0 || itemSize < 0 {
		return nil, false
	}
	if !k.allocObject(`queue`) {
		return nil, false
	}
	return &queue{
		k:        k,
		items:    ring.New[[]byte](length),
		itemSize: itemSize,
	}, true
}

// push must be called with k.mu held.
func (q *queue) push(item []byte, pos kernel.QueuePosition) bool {
	item = slices.Clone(item)
	if pos == kernel.SendToFront {
		return q.items.PushFront(item)
	}
	return q.items.PushBack(item)
}

// pop must be called with k.mu held.
func (q *queue) pop(out []byte) bool {
	item, ok := q.items.PopFront()
	if !ok {
		return false
	}
	copy(out, item)
	return true
}

func (q *queue) Send(ctx context.Context, item []byte, pos kernel.QueuePosition, ticks kernel.Tick) bool {
	if len(item) != q.itemSize {
		return false
	}
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.k.block(ctx, &q.object, &q.senders, ticks, func() bool {
		if !q.push(item, pos) {
			return false
		}
		q.k.wakeOne(&q.receivers)
		return true
	})
}

func (q *queue) SendFromISR(ctx context.Context, item []byte, pos kernel.QueuePosition) (ok, woken bool) {
	if len(item) != q.itemSize {
		return false, false
	}
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	if q.deleted || !q.push(item, pos) {
		return false, false
	}
	return true, q.k.woken(ctx, q.k.wakeOne(&q.receivers))
}

func (q *queue) Overwrite(ctx context.Context, item []byte) bool {
	ok, _ := q.OverwriteFromISR(ctx, item)
	return ok
}

func (q *queue) OverwriteFromISR(ctx context.Context, item []byte) (ok, woken bool) {
	if len(item) != q.itemSize {
		return false, false
	}
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	if q.deleted {
		return false, false
	}
	q.items.Overwrite(slices.Clone(item))
	return true, q.k.woken(ctx, q.k.wakeOne(&q.receivers))
}

func (q *queue) Receive(ctx context.Context, out []byte, ticks kernel.Tick) bool {
	if len(out) != q.itemSize {
		return false
	}
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.k.block(ctx, &q.object, &q.receivers, ticks, func() bool {
		if !q.pop(out) {
			return false
		}
		q.k.wakeOne(&q.senders)
		return true
	})
}

func (q *queue) ReceiveFromISR(ctx context.Context, out []byte) (ok, woken bool) {
	if len(out) != q.itemSize {
		return false, false
	}
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	if q.deleted || !q.pop(out) {
		return false, false
	}
	return true, q.k.woken(ctx, q.k.wakeOne(&q.senders))
}

func (q *queue) MessagesWaiting() int {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.items.Len()
}

func (q *queue) MessagesWaitingFromISR() int {
	return q.MessagesWaiting()
}

func (q *queue) Reset() bool {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	if q.deleted {
		return false
	}
	q.items.Reset()
	q.k.wakeAll(&q.senders, false)
	return true
}

func (q *queue) Delete() {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	if q.deleted {
		return
	}
	q.deleted = true
	q.items.Reset()
	q.k.wakeAll(&q.senders, true)
	q.k.wakeAll(&q.receivers, true)
	q.k.objects--
}
