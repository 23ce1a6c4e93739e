package rtsync

import (
	"math"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
)

const (
	// NoWait never blocks.
	NoWait time.Duration = 0

	// WaitForever blocks indefinitely. Any negative duration has the same
	// meaning.
	WaitForever time.Duration = -1
)

// TimeoutClass is the classification of a timeout, see ClassifyTimeout.
type TimeoutClass uint8

const (
	TimeoutZero TimeoutClass = iota
	TimeoutFinite
	TimeoutInfinite
)

func (x TimeoutClass) String() string {
	switch x {
	case TimeoutZero:
		return `zero`
	case TimeoutFinite:
		return `finite`
	case TimeoutInfinite:
		return `infinite`
	default:
		return `unknown`
	}
}

// ClassifyTimeout maps a duration to its TimeoutClass.
func ClassifyTimeout(timeout time.Duration) TimeoutClass {
	switch {
	case timeout == 0:
		return TimeoutZero
	case timeout < 0:
		return TimeoutInfinite
	default:
		return TimeoutFinite
	}
}

// TimeBudget converts a timeout to kernel ticks, and tracks what is left of
// it across the repeated kernel calls of one logical wait. The start tick is
// captured once, on creation, and elapsed time is computed with wrapping
// arithmetic, so a budget is neither shortened nor extended by the tick
// counter wrapping around.
type TimeBudget struct {
	clock kernel.Clock
	start kernel.Tick
	total kernel.Tick
	class TimeoutClass
}

// NewTimeBudget starts a budget for timeout. A finite timeout is truncated to
// whole milliseconds, and never converts to kernel.MaxDelay.
func NewTimeBudget(clock kernel.Clock, timeout time.Duration) TimeBudget {
	b := TimeBudget{clock: clock, class: ClassifyTimeout(timeout)}
	switch b.class {
	case TimeoutFinite:
		b.total = finiteTicks(clock, timeout)
		b.start = clock.TickCount()
	case TimeoutInfinite:
		b.total = kernel.MaxDelay
	}
	return b
}

func finiteTicks(clock kernel.Clock, timeout time.Duration) kernel.Tick {
	ms := uint64(timeout / time.Millisecond)
	if ms > math.MaxUint32 {
		ms = math.MaxUint32
	}
	ticks := clock.MillisToTicks(uint32(ms))
	if ticks == kernel.MaxDelay {
		ticks--
	}
	return ticks
}

func (x TimeBudget) Class() TimeoutClass { return x.class }

// Ticks returns the whole budget, for the first kernel call.
func (x TimeBudget) Ticks() kernel.Tick { return x.total }

// Remaining returns the ticks left for a repeated kernel call, or false if
// the budget is exhausted. A zero budget is exhausted on any repeat, an
// infinite one never is.
func (x TimeBudget) Remaining() (kernel.Tick, bool) {
	switch x.class {
	case TimeoutInfinite:
		return kernel.MaxDelay, true
	case TimeoutZero:
		return 0, false
	}
	ticks := kernel.Remaining(x.start, x.clock.TickCount(), x.total)
	return ticks, ticks != 0
}
