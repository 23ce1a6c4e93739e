package simkernel

import (
	"context"

	"github.com/joeycumines/go-rtsync/kernel"
)

type (
	binary struct {
		object
		k      *Kernel
		takers waitList
		full   bool
	}

	mutex struct {
		object
		k       *Kernel
		owner   *Task
		waiters waitList
	}
)

var (
	_ kernel.Semaphore = (*binary)(nil)
	_ kernel.Mutex     = (*mutex)(nil)
)

// NewBinary implements kernel.Kernel. The semaphore starts empty.
func (k *Kernel) NewBinary() (kernel.Semaphore, bool) {
	if !k.allocObject(`binary`) {
		return nil, false
	}
	return &binary{k: k}, true
}

func (s *binary) Give(ctx context.Context) bool {
	ok, _ := s.GiveFromISR(ctx)
	return ok
}

func (s *binary) GiveFromISR(ctx context.Context) (ok, woken bool) {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	if s.deleted || s.full {
		return false, false
	}
	s.full = true
	return true, s.k.woken(ctx, s.k.wakeOne(&s.takers))
}

func (s *binary) Take(ctx context.Context, ticks kernel.Tick) bool {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	return s.k.block(ctx, &s.object, &s.takers, ticks, s.take)
}

func (s *binary) TakeFromISR(context.Context) (ok, woken bool) {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	if s.deleted {
		return false, false
	}
	return s.take(), false
}

func (s *binary) take() bool {
	if !s.full {
		return false
	}
	s.full = false
	return true
}

func (s *binary) Delete() {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	if s.deleted {
		return
	}
	s.deleted = true
	s.k.wakeAll(&s.takers, true)
	s.k.objects--
}

// NewMutex implements kernel.Kernel. The mutex is not recursive, callers
// without a task share a single anonymous identity.
func (k *Kernel) NewMutex() (kernel.Mutex, bool) {
	if !k.allocObject(`mutex`) {
		return nil, false
	}
	return &mutex{k: k}, true
}

func (m *mutex) Take(ctx context.Context, ticks kernel.Tick) bool {
	owner := m.k.owner(ctx)
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	return m.k.block(ctx, &m.object, &m.waiters, ticks, func() bool {
		if m.owner != nil {
			return false
		}
		m.owner = owner
		return true
	})
}

func (m *mutex) Give(ctx context.Context) bool {
	owner := m.k.owner(ctx)
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	if m.deleted || m.owner == nil || m.owner != owner {
		return false
	}
	m.owner = nil
	m.k.wakeOne(&m.waiters)
	return true
}

func (m *mutex) Delete() {
	m.k.mu.Lock()
	defer m.k.mu.Unlock()
	if m.deleted {
		return
	}
	m.deleted = true
	m.k.wakeAll(&m.waiters, true)
	m.k.objects--
}
