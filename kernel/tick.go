package kernel

import (
	"golang.org/x/exp/constraints"
)

// Tick is the kernel's unit of time. Tick counts wrap around, all arithmetic
// on them must go through Elapsed or Expired.
type Tick uint32

// MaxDelay is the tick budget meaning "block indefinitely".
const MaxDelay = ^Tick(0)

// Elapsed returns the number of ticks from start to now, correct across a
// single wraparound of the counter.
func Elapsed[T constraints.Unsigned](start, now T) T {
	return now - start
}

// Expired reports whether a budget of total, started at start, has been used
// up by now.
func Expired[T constraints.Unsigned](start, now, total T) bool {
	return Elapsed(start, now) >= total
}

// Remaining returns the unused part of a budget of total, started at start,
// or 0 if it has expired.
func Remaining[T constraints.Unsigned](start, now, total T) T {
	if e := Elapsed(start, now); e < total {
		return total - e
	}
	return 0
}
