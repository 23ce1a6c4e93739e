// Package ring implements a bounded double-ended ring buffer.
package ring

// Ring is a bounded deque, using free-running read and write offsets, masked
// against a power of 2 backing slice. The limit may be smaller than the
// backing slice, and is enforced separately.
type Ring[E any] struct {
	s     []E
	r, w  uint
	limit int
}

// New returns a Ring holding at most limit values. It panics if limit is not
// positive.
func New[E any](limit int) *Ring[E] {
	if limit <= 0 {
		panic(`rtsync: ring: limit must be positive`)
	}
	size := 1
	for size < limit {
		size <<= 1
		if size <= 0 {
			panic(`rtsync: ring: limit overflow`)
		}
	}
	return &Ring[E]{s: make([]E, size), limit: limit}
}

func (x *Ring[E]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *Ring[E]) Len() int {
	return int(x.w - x.r)
}

func (x *Ring[E]) Full() bool {
	return x.Len() >= x.limit
}

// PushBack appends value, returning false if full.
func (x *Ring[E]) PushBack(value E) bool {
	if x.Full() {
		return false
	}
	x.s[x.mask(x.w)] = value
	x.w++
	return true
}

// PushFront prepends value, returning false if full.
func (x *Ring[E]) PushFront(value E) bool {
	if x.Full() {
		return false
	}
	x.r--
	x.s[x.mask(x.r)] = value
	return true
}

// PopFront removes and returns the front value.
func (x *Ring[E]) PopFront() (value E, ok bool) {
	if x.r == x.w {
		return
	}
	i := x.mask(x.r)
	value, ok = x.s[i], true
	var zero E
	x.s[i] = zero
	x.r++
	return
}

// Overwrite replaces the back value if full, otherwise it appends.
func (x *Ring[E]) Overwrite(value E) {
	if x.Full() {
		x.s[x.mask(x.w-1)] = value
		return
	}
	x.PushBack(value)
}

// Reset discards all values.
func (x *Ring[E]) Reset() {
	clear(x.s)
	x.r = 0
	x.w = 0
}
