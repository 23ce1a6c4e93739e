// Command rtsyncdemo runs a producer/consumer scenario over the simulated
// kernel, exercising every rtsync primitive, and prints a summary.
//
// Run with: go run ./cmd/rtsyncdemo -config scenario.yaml -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeycumines/go-rtsync"
	"github.com/joeycumines/go-rtsync/simkernel"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/yaml.v3"
)

// irqBit is set by the interrupt source, in addition to one bit per
// producer.
const irqBit uint32 = 1 << 31

type (
	scenario struct {
		Kernel           simkernel.Config `yaml:"kernel"`
		Producers        int              `yaml:"producers"`
		ItemsPerProducer int              `yaml:"items_per_producer"`
		QueueCapacity    int              `yaml:"queue_capacity"`
		BitsTimeout      time.Duration    `yaml:"bits_timeout"`
	}

	// sample is the fixed-size item sent over the channel.
	sample struct {
		Tick     uint32
		Seq      uint32
		Producer uint8
	}

	stats struct {
		perProducer []int
		received    int
		maxDepth    int
		lastTick    uint32
	}
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func defaultScenario() scenario {
	return scenario{
		Kernel:           simkernel.DefaultConfig(),
		Producers:        3,
		ItemsPerProducer: 10,
		QueueCapacity:    4,
		BitsTimeout:      time.Second,
	}
}

func loadScenario(r io.Reader) (scenario, error) {
	sc := defaultScenario()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil && !errors.Is(err, io.EOF) {
		return scenario{}, fmt.Errorf("rtsyncdemo: invalid scenario: %w", err)
	}
	return sc, sc.validate()
}

func (x scenario) validate() error {
	switch {
	case x.Producers <= 0 || x.Producers > 31:
		return fmt.Errorf("rtsyncdemo: producers must be in [1, 31]: %d", x.Producers)
	case x.ItemsPerProducer <= 0:
		return fmt.Errorf("rtsyncdemo: items_per_producer must be positive: %d", x.ItemsPerProducer)
	case x.QueueCapacity <= 0:
		return fmt.Errorf("rtsyncdemo: queue_capacity must be positive: %d", x.QueueCapacity)
	case x.BitsTimeout <= 0:
		return fmt.Errorf("rtsyncdemo: bits_timeout must be positive: %s", x.BitsTimeout)
	case x.Kernel.Manual:
		return errors.New(`rtsyncdemo: manual ticks are not supported`)
	}
	return x.Kernel.Validate()
}

func parseLevel(s string) (logiface.Level, error) {
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("rtsyncdemo: unknown log level: %q", s)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(`rtsyncdemo`, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String(`config`, ``, `path to a YAML scenario file`)
	logLevel := fs.String(`log-level`, logiface.LevelInformational.String(), `log level, e.g. warning, info, debug`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}

	sc := defaultScenario()
	if *configPath != `` {
		f, err := os.Open(*configPath)
		if err != nil {
			return err
		}
		sc, err = loadScenario(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	summary, err := simulate(ctx, sc, logger)
	if err != nil {
		logger.Err().Err(err).Log(`scenario failed`)
		return err
	}

	for i, n := range summary.perProducer {
		fmt.Fprintf(stdout, "producer %d: %d items\n", i, n)
	}
	fmt.Fprintf(stdout, "received %d items, max queue depth %d/%d\n", summary.received, summary.maxDepth, sc.QueueCapacity)
	return nil
}

func simulate(ctx context.Context, sc scenario, logger *logiface.Logger[logiface.Event]) (*stats, error) {
	k, err := simkernel.New(simkernel.WithConfig(sc.Kernel), simkernel.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer k.Close()

	mainCtx, _, release, err := k.Adopt(ctx, `main`, 0)
	if err != nil {
		return nil, err
	}
	defer release()

	ch, err := rtsync.NewChannel[sample](k, sc.QueueCapacity, rtsync.WithLogger(logger), rtsync.WithName(`samples`))
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	start, err := rtsync.NewBinaryLatch(k, rtsync.WithLogger(logger), rtsync.WithName(`start`))
	if err != nil {
		return nil, err
	}
	defer start.Close()

	lock, err := rtsync.NewExclusiveLock(k, rtsync.WithLogger(logger), rtsync.WithName(`stats`))
	if err != nil {
		return nil, err
	}
	defer lock.Close()

	done, err := rtsync.NewNotificationSlot(k, rtsync.WithLogger(logger), rtsync.WithName(`done`), rtsync.WithMode(rtsync.ModeBits))
	if err != nil {
		return nil, err
	}

	summary := &stats{perProducer: make([]int, sc.Producers)}
	total := sc.Producers * sc.ItemsPerProducer
	mask := irqBit | (uint32(1)<<sc.Producers - 1)

	var consumerErr error
	ready := make(chan struct{})
	consumer, err := k.Spawn(`consumer`, 2, func(ctx context.Context) {
		consumerErr = consume(ctx, sc, ch, lock, done, summary, total, mask, ready)
	})
	if err != nil {
		return nil, err
	}
	select {
	case <-ready:
	case <-consumer.Done():
		return nil, consumerErr
	}

	producers := make([]*simkernel.Task, sc.Producers)
	producerErrs := make([]error, sc.Producers)
	for i := range producers {
		producers[i], err = k.Spawn(fmt.Sprintf("producer-%d", i), 1, func(ctx context.Context) {
			producerErrs[i] = produce(ctx, k, uint8(i), sc.ItemsPerProducer, ch, start, done)
		})
		if err != nil {
			return nil, err
		}
	}

	// the interrupt source releases the producers, then reports in
	k.Interrupt(mainCtx, func(ctx context.Context) {
		if err := start.Give(ctx); err != nil {
			logger.Warning().Err(err).Log(`start signal failed`)
		}
		if err := done.SetBits(ctx, irqBit); err != nil {
			logger.Warning().Err(err).Log(`interrupt report failed`)
		}
	})

	for _, p := range producers {
		p.Wait()
	}
	consumer.Wait()

	if err := errors.Join(append(producerErrs, consumerErr)...); err != nil {
		return nil, err
	}

	var result *stats
	if err := lock.Do(mainCtx, sc.BitsTimeout, func() error {
		result = &stats{
			perProducer: append([]int(nil), summary.perProducer...),
			received:    summary.received,
			maxDepth:    summary.maxDepth,
			lastTick:    summary.lastTick,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	logger.Info().
		Int(`producers`, sc.Producers).
		Int(`received`, result.received).
		Int(`max_depth`, result.maxDepth).
		Uint64(`last_tick`, uint64(result.lastTick)).
		Uint64(`yields`, k.YieldRequests()).
		Log(`scenario complete`)

	return result, nil
}

func produce(ctx context.Context, k *simkernel.Kernel, id uint8, items int, ch *rtsync.Channel[sample], start *rtsync.BinaryLatch, done *rtsync.NotificationSlot) error {
	if err := start.Take(ctx, rtsync.WaitForever); err != nil {
		return err
	}
	// pass the start signal on to the next producer
	if err := start.Give(ctx); err != nil && !errors.Is(err, rtsync.ErrRejected) {
		return err
	}
	for seq := 0; seq < items; seq++ {
		if err := ch.Push(ctx, sample{Tick: uint32(k.TickCount()), Seq: uint32(seq), Producer: id}, rtsync.WaitForever); err != nil {
			return err
		}
	}
	return done.SetBits(ctx, 1<<id)
}

func consume(ctx context.Context, sc scenario, ch *rtsync.Channel[sample], lock *rtsync.ExclusiveLock, done *rtsync.NotificationSlot, summary *stats, total int, mask uint32, ready chan<- struct{}) error {
	if err := done.BindToSelf(ctx); err != nil {
		return err
	}
	close(ready)

	for i := 0; i < total; i++ {
		depth := ch.Count(ctx)
		s, err := ch.Pop(ctx, sc.BitsTimeout)
		if err != nil {
			return err
		}
		if err := lock.Do(ctx, sc.BitsTimeout, func() error {
			if int(s.Producer) >= len(summary.perProducer) {
				return fmt.Errorf("rtsyncdemo: unknown producer: %d", s.Producer)
			}
			summary.perProducer[s.Producer]++
			summary.received++
			summary.maxDepth = max(summary.maxDepth, depth)
			summary.lastTick = s.Tick
			return nil
		}); err != nil {
			return err
		}
	}

	_, err := done.WaitBits(ctx, mask, sc.BitsTimeout, rtsync.WaitAll|rtsync.ClearOnExit)
	return err
}
