// Package telemetry runs the acquire, aggregate, publish, sleep cycle.
//
// Everything happens on the calling goroutine. Acquisition failures are
// handled according to the configured Policy; publish failures are logged
// and never stop the cycle.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/itohio/gowaga/pkg/publish"
	"github.com/itohio/gowaga/pkg/sample"
	"github.com/itohio/gowaga/pkg/sensor"
)

// Sampler is the sensor side of the loop.
type Sampler interface {
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Sample(ctx context.Context, ch sensor.ChannelSpec) (sensor.RawSample, error)
}

// Publisher is the broker side of the loop.
type Publisher interface {
	Publish(ctx context.Context, rec publish.Record) (publish.Outcome, error)
}

// Ensure the concrete components satisfy the loop interfaces.
var (
	_ Sampler   = (*sensor.Port)(nil)
	_ Publisher = (*publish.Publisher)(nil)
)

// Options controls the cycle cadence and the failure policy.
type Options struct {
	Samples     int           // N samples per channel per cycle
	SampleDelay time.Duration // After each round of channel reads
	CycleDelay  time.Duration // Between cycles
	Policy      Policy
	Retries     int           // For RetryNTimes
	RetryDelay  time.Duration // For RetryNTimes
}

// Loop is the telemetry control loop.
type Loop struct {
	port     Sampler
	pub      Publisher
	channels []Channel
	opts     Options
	log      *slog.Logger

	window *sample.Window
	cycles int
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Loop.
func New(port Sampler, pub Publisher, channels []Channel, opts Options, log *slog.Logger) (*Loop, error) {
	if opts.Samples < 1 {
		return nil, fmt.Errorf("samples per cycle must be at least 1, got %d", opts.Samples)
	}
	if len(channels) == 0 {
		return nil, errors.New("no channels")
	}
	if opts.Policy == RetryNTimes && opts.Retries < 1 {
		return nil, fmt.Errorf("%s needs at least one retry", RetryNTimes)
	}
	if log == nil {
		log = slog.Default()
	}

	specs := make([]sensor.ChannelSpec, len(channels))
	for i, ch := range channels {
		specs[i] = ch.Spec
	}

	return &Loop{
		port:     port,
		pub:      pub,
		channels: channels,
		opts:     opts,
		log:      log.With(slog.String("component", "telemetry")),
		window:   sample.NewWindow(specs, opts.Samples),
		sleep:    sleep,
	}, nil
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() int {
	return l.cycles
}

// Run repeats cycles until an acquisition failure ends the run under the
// configured policy or ctx is cancelled. It never returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("telemetry loop started",
		slog.Int("samples", l.opts.Samples),
		slog.Duration("sample_delay", l.opts.SampleDelay),
		slog.Duration("cycle_delay", l.opts.CycleDelay),
		slog.String("on_failure", l.opts.Policy.String()))

	for {
		if err := l.runCycle(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			var acqErr *sensor.AcquisitionError
			if !errors.As(err, &acqErr) || l.opts.Policy != SkipCycle {
				return err
			}

			l.log.Warn("cycle skipped", slog.Any("error", err))
		}

		if err := l.sleep(ctx, l.opts.CycleDelay); err != nil {
			return err
		}
	}
}

// runCycle runs one cycle, re-acquiring under RetryNTimes.
func (l *Loop) runCycle(ctx context.Context) error {
	if l.opts.Policy != RetryNTimes {
		_, err := l.Cycle(ctx)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(l.opts.RetryDelay), uint64(l.opts.Retries)),
		ctx)

	op := func() error {
		_, err := l.Cycle(ctx)
		var acqErr *sensor.AcquisitionError
		if err != nil && !errors.As(err, &acqErr) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		l.log.Warn("acquisition failed, retrying cycle", slog.Duration("after", next), slog.Any("error", err))
	}

	return backoff.RetryNotify(op, b, notify)
}

// Cycle acquires N samples per channel, reduces them and publishes one
// record per channel. If acquisition fails nothing is published and the
// error is returned. Publish failures are logged and do not fail the cycle.
func (l *Loop) Cycle(ctx context.Context) ([]sample.Reading, error) {
	readings, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}

	l.report(ctx, readings)
	l.cycles++

	return readings, nil
}

func (l *Loop) acquire(ctx context.Context) ([]sample.Reading, error) {
	l.window.Reset()

	if err := l.port.PowerOn(ctx); err != nil {
		return nil, err
	}

	err := l.collect(ctx)

	// The amplifier is left powered down between cycles, also after a failure.
	if offErr := l.port.PowerOff(ctx); offErr != nil {
		if err == nil {
			err = offErr
		} else {
			l.log.Warn("amplifier power off failed", slog.Any("error", offErr))
		}
	}
	if err != nil {
		return nil, err
	}

	readings, err := l.window.Readings()
	if err != nil {
		return nil, err
	}

	for i := range readings {
		readings[i].Value = l.channels[i].Calibration.Apply(readings[i].Value)
	}

	return readings, nil
}

func (l *Loop) collect(ctx context.Context) error {
	for n := 0; n < l.opts.Samples; n++ {
		for i, ch := range l.channels {
			v, err := l.port.Sample(ctx, ch.Spec)
			if err != nil {
				return err
			}
			if err := l.window.Add(i, v); err != nil {
				return err
			}
		}

		if err := l.sleep(ctx, l.opts.SampleDelay); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loop) report(ctx context.Context, readings []sample.Reading) {
	for i, r := range readings {
		ch := l.channels[i]
		l.log.Info("reading", slog.String("channel", ch.Spec.Name), slog.Int64("value", r.Value))

		rec := publish.NewRecord(ch.Topic, r.Value, ch.Retain)
		if _, err := l.pub.Publish(ctx, rec); err != nil {
			l.log.Error("publish failed", slog.String("topic", ch.Topic), slog.Any("error", err))
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
