package simkernel

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/joeycumines/go-rtsync/kernel"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Config models the tunables of a Kernel, and may be loaded from YAML, see
// LoadConfig.
type Config struct {
	// TickPeriod is the duration of one tick, used to convert milliseconds
	// to ticks, and to drive the tick counter unless Manual is set.
	TickPeriod time.Duration `yaml:"tick_period"`

	// InitialTick is the tick count the kernel starts at, useful to exercise
	// wraparound.
	InitialTick kernel.Tick `yaml:"initial_tick"`

	// Manual disables the tick goroutine, ticks are then only advanced by
	// Kernel.Advance.
	Manual bool `yaml:"manual"`

	// MaxTasks limits the number of live tasks, 0 is unlimited.
	MaxTasks int `yaml:"max_tasks"`

	// MaxObjects limits the number of live kernel objects (queues,
	// semaphores, mutexes), 0 is unlimited. Creation past the limit fails,
	// like an allocation failure on a device.
	MaxObjects int `yaml:"max_objects"`
}

// Option configures a Kernel, see New.
type Option interface {
	applyKernel(*kernelOptions) error
}

type kernelOptions struct {
	logger *logiface.Logger[logiface.Event]
	config Config
}

type kernelOptionImpl struct {
	applyKernelFunc func(*kernelOptions) error
}

var (
	// ErrInvalidConfig is returned (wrapped) when a Config fails validation.
	ErrInvalidConfig = errors.New(`simkernel: invalid config`)
)

func (x *kernelOptionImpl) applyKernel(opts *kernelOptions) error {
	return x.applyKernelFunc(opts)
}

// DefaultConfig returns the configuration used by New, prior to applying
// options: a 1ms tick, driven in real time.
func DefaultConfig() Config {
	return Config{TickPeriod: time.Millisecond}
}

// LoadConfig decodes a YAML document into a Config, starting from
// DefaultConfig. Unknown fields are rejected. An empty document yields the
// defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the Config for values New would reject.
func (x Config) Validate() error {
	if x.TickPeriod <= 0 {
		return fmt.Errorf("%w: tick_period must be positive: %s", ErrInvalidConfig, x.TickPeriod)
	}
	if x.MaxTasks < 0 {
		return fmt.Errorf("%w: max_tasks must not be negative: %d", ErrInvalidConfig, x.MaxTasks)
	}
	if x.MaxObjects < 0 {
		return fmt.Errorf("%w: max_objects must not be negative: %d", ErrInvalidConfig, x.MaxObjects)
	}
	return nil
}

// WithConfig replaces the whole configuration, options applied afterwards
// still take effect.
func WithConfig(cfg Config) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config = cfg
		return nil
	}}
}

// WithManualTicks disables the tick goroutine.
func WithManualTicks() Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config.Manual = true
		return nil
	}}
}

func WithTickPeriod(period time.Duration) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config.TickPeriod = period
		return nil
	}}
}

func WithInitialTick(tick kernel.Tick) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config.InitialTick = tick
		return nil
	}}
}

func WithMaxTasks(n int) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config.MaxTasks = n
		return nil
	}}
}

func WithMaxObjects(n int) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.config.MaxObjects = n
		return nil
	}}
}

// WithLogger sets the logger used for kernel diagnostics. A nil logger
// disables logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &kernelOptionImpl{func(opts *kernelOptions) error {
		opts.logger = logger
		return nil
	}}
}

func resolveKernelOptions(opts []Option) (*kernelOptions, error) {
	cfg := &kernelOptions{config: DefaultConfig()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyKernel(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.config.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
