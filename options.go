package rtsync

import (
	"fmt"
	"maps"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// primitiveOptions holds configuration options for primitive creation.
type primitiveOptions struct {
	logger   *logiface.Logger[logiface.Event]
	logRates map[time.Duration]int
	target   kernel.Task
	name     string
	mode     NotifyMode
}

// Option configures a primitive, see the New* functions.
type Option interface {
	applyPrimitive(*primitiveOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPrimitiveFunc func(*primitiveOptions) error
}

func (o *optionImpl) applyPrimitive(opts *primitiveOptions) error {
	return o.applyPrimitiveFunc(opts)
}

// DefaultLogRates are the limits applied to diagnostics of each primitive,
// per category of event (operation and reason).
func DefaultLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 8,
		time.Minute: 60,
	}
}

// WithLogger sets the logger used for diagnostics. Diagnostics are disabled
// by default, or if logger is nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *primitiveOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLogRates sets the sliding window limits for diagnostics, see
// DefaultLogRates. An empty map disables limiting. Each window must be
// positive with a positive count, and a longer window must allow more events
// at a lower rate than any shorter one.
func WithLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *primitiveOptions) error {
		if err := validateLogRates(rates); err != nil {
			return err
		}
		opts.logRates = maps.Clone(rates)
		if opts.logRates == nil {
			opts.logRates = map[time.Duration]int{}
		}
		return nil
	}}
}

// WithName sets a name, included in diagnostics and errors.
func WithName(name string) Option {
	return &optionImpl{func(opts *primitiveOptions) error {
		opts.name = name
		return nil
	}}
}

// WithTarget binds a NotificationSlot to task on creation. It is not valid
// for other primitives.
func WithTarget(task kernel.Task) Option {
	return &optionImpl{func(opts *primitiveOptions) error {
		if task == nil {
			return fmt.Errorf("%w: nil target", ErrInvalidArgument)
		}
		opts.target = task
		return nil
	}}
}

// WithMode locks a NotificationSlot to mode on creation. It is not valid for
// other primitives.
func WithMode(mode NotifyMode) Option {
	return &optionImpl{func(opts *primitiveOptions) error {
		if mode != ModeCounter && mode != ModeBits {
			return fmt.Errorf("%w: mode %s", ErrInvalidArgument, mode)
		}
		opts.mode = mode
		return nil
	}}
}

// resolveOptions applies Option instances to primitiveOptions.
func resolveOptions(opts []Option) (*primitiveOptions, error) {
	cfg := &primitiveOptions{
		logRates: DefaultLogRates(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPrimitive(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// slotOnly rejects options that only apply to a NotificationSlot.
func (x *primitiveOptions) slotOnly() error {
	if x.target != nil || x.mode != ModeUnknown {
		return fmt.Errorf("%w: target and mode options only apply to a notification slot", ErrInvalidArgument)
	}
	return nil
}

// validateLogRates mirrors the validation of catrate.NewLimiter, which
// panics, reporting an error instead.
func validateLogRates(rates map[time.Duration]int) error {
	durations := make([]time.Duration, 0, len(rates))
	for duration := range rates {
		durations = append(durations, duration)
	}
	slices.Sort(durations)
	for i, duration := range durations {
		rate := rates[duration]
		if rate <= 0 || duration <= 0 {
			return fmt.Errorf("%w: log rate %s: %d", ErrInvalidArgument, duration, rate)
		}
		if (i < len(durations)-1 && rate >= rates[durations[i+1]]) ||
			(i > 0 && float64(rate)/float64(duration) >= float64(rates[durations[i-1]])/float64(durations[i-1])) {
			return fmt.Errorf("%w: log rate %s: %d: not monotonic", ErrInvalidArgument, duration, rate)
		}
	}
	return nil
}
