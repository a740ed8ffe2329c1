package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gowaga/pkg/config"
	"github.com/itohio/gowaga/pkg/publish"
	"github.com/itohio/gowaga/pkg/sample"
	"github.com/itohio/gowaga/pkg/sensor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSampler serves fixed values per channel, or consumes seq first.
type fakeSampler struct {
	values map[sensor.Kind]int64
	seq    map[sensor.Kind][]int64
	// fail reports whether the call-th sample (1-based) of the cycle-th
	// power-on (1-based) fails.
	fail func(cycle, call int) bool

	ops      []string
	cycle    int
	call     int
	powerOff int
}

func (f *fakeSampler) PowerOn(ctx context.Context) error {
	f.cycle++
	f.call = 0
	f.ops = append(f.ops, "power on")
	return nil
}

func (f *fakeSampler) PowerOff(ctx context.Context) error {
	f.powerOff++
	f.ops = append(f.ops, "power off")
	return nil
}

func (f *fakeSampler) Sample(ctx context.Context, ch sensor.ChannelSpec) (sensor.RawSample, error) {
	f.call++
	f.ops = append(f.ops, ch.Name)

	if f.fail != nil && f.fail(f.cycle, f.call) {
		return 0, &sensor.AcquisitionError{Channel: ch.Name, Op: "read", Err: sensor.ErrTimeout}
	}

	if s := f.seq[ch.Kind]; len(s) > 0 {
		f.seq[ch.Kind] = s[1:]
		return s[0], nil
	}
	return f.values[ch.Kind], nil
}

type fakePublisher struct {
	fail      map[string]bool
	onPublish func(n int)

	attempts []publish.Record
}

func (f *fakePublisher) Publish(ctx context.Context, rec publish.Record) (publish.Outcome, error) {
	f.attempts = append(f.attempts, rec)
	if f.onPublish != nil {
		f.onPublish(len(f.attempts))
	}
	if f.fail[rec.Topic] {
		return 0, &publish.PublishError{Topic: rec.Topic, Err: publish.ErrNotConnected}
	}
	return publish.Enqueued, nil
}

func (f *fakePublisher) payloads() map[string]string {
	out := make(map[string]string, len(f.attempts))
	for _, r := range f.attempts {
		out[r.Topic] = string(r.Payload)
	}
	return out
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func defaultOptions() Options {
	return Options{
		Samples:     1,
		SampleDelay: 500 * time.Millisecond,
		CycleDelay:  10 * time.Second,
		Policy:      AbortRun,
	}
}

func newTestLoop(t *testing.T, s Sampler, p Publisher, opts Options) (*Loop, *sleepRecorder) {
	t.Helper()
	l, err := New(s, p, ChannelsFromConfig(config.Default()), opts, testLogger())
	require.NoError(t, err)

	rec := &sleepRecorder{}
	l.sleep = rec.sleep
	return l, rec
}

func exampleValues() map[sensor.Kind]int64 {
	return map[sensor.Kind]int64{
		sensor.VCC:     1500,
		sensor.VBAT:    2000,
		sensor.Gain128: -403300,
		sensor.Gain32:  5,
	}
}

func TestCycle_SingleSample(t *testing.T) {
	s := &fakeSampler{values: exampleValues()}
	p := &fakePublisher{}
	l, sleeps := newTestLoop(t, s, p, defaultOptions())

	readings, err := l.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 4)

	assert.Equal(t, []string{"power on", "vcc", "vbat", "value", "chb", "power off"}, s.ops)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeps.sleeps)

	assert.Equal(t, map[string]string{
		"waga1/vcc":   "3000",
		"waga1/vbat":  "4000",
		"waga1/value": "-403300",
		"waga1/chb":   "5",
	}, p.payloads())

	for _, r := range p.attempts {
		assert.Equal(t, publish.AtLeastOnce, r.Quality)
		assert.True(t, r.Retain)
	}
	assert.Equal(t, 1, l.Cycles())
}

func TestCycle_AveragesWithinCycle(t *testing.T) {
	s := &fakeSampler{
		values: exampleValues(),
		seq: map[sensor.Kind][]int64{
			sensor.VCC:     {1, 2, 2},
			sensor.Gain128: {-1, -1, 0},
			sensor.Gain32:  {10, 11, 13},
		},
	}
	p := &fakePublisher{}
	opts := defaultOptions()
	opts.Samples = 3
	l, sleeps := newTestLoop(t, s, p, opts)

	readings, err := l.Cycle(context.Background())
	require.NoError(t, err)

	got := make(map[string]int64)
	for _, r := range readings {
		got[r.Channel.Name] = r.Value
	}
	assert.Equal(t, map[string]int64{
		"vcc":   3, // (5*2)/3
		"vbat":  4000,
		"value": 0, // -2/3 truncates toward zero
		"chb":   11,
	}, got)

	assert.Len(t, sleeps.sleeps, 3)
	assert.Equal(t, []string{
		"power on",
		"vcc", "vbat", "value", "chb",
		"vcc", "vbat", "value", "chb",
		"vcc", "vbat", "value", "chb",
		"power off",
	}, s.ops)
}

func TestCycle_WindowResetBetweenCycles(t *testing.T) {
	s := &fakeSampler{
		values: exampleValues(),
		seq:    map[sensor.Kind][]int64{sensor.Gain32: {100, 100, 1, 1}},
	}
	p := &fakePublisher{}
	opts := defaultOptions()
	opts.Samples = 2
	l, _ := newTestLoop(t, s, p, opts)

	_, err := l.Cycle(context.Background())
	require.NoError(t, err)
	readings, err := l.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), readings[3].Value)
}

func TestCycle_PublishFailureIsolated(t *testing.T) {
	s := &fakeSampler{values: exampleValues()}
	p := &fakePublisher{fail: map[string]bool{"waga1/vcc": true}}
	l, _ := newTestLoop(t, s, p, defaultOptions())

	readings, err := l.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, readings, 4)

	require.Len(t, p.attempts, 4)
	assert.Equal(t, "waga1/vbat", p.attempts[1].Topic)
	assert.Equal(t, "-403300", string(p.attempts[2].Payload))
}

func TestCycle_AcquisitionFailure(t *testing.T) {
	s := &fakeSampler{
		values: exampleValues(),
		fail:   func(cycle, call int) bool { return call == 3 },
	}
	p := &fakePublisher{}
	l, _ := newTestLoop(t, s, p, defaultOptions())

	readings, err := l.Cycle(context.Background())
	require.Error(t, err)
	assert.Nil(t, readings)

	var acqErr *sensor.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, "value", acqErr.Channel)
	assert.ErrorIs(t, err, sensor.ErrTimeout)

	assert.Empty(t, p.attempts)
	assert.Equal(t, []string{"power on", "vcc", "vbat", "value", "power off"}, s.ops)
	assert.Equal(t, 0, l.Cycles())
}

func TestCycle_Calibration(t *testing.T) {
	s := &fakeSampler{values: exampleValues()}
	s.values[sensor.Gain128] = -393300
	p := &fakePublisher{}

	cfg := config.Default()
	cfg.Channels.Value.Calibration = config.CalibrationConfig{Offset: -403300, Gain: 0.01}

	l, err := New(s, p, ChannelsFromConfig(cfg), defaultOptions(), testLogger())
	require.NoError(t, err)
	l.sleep = (&sleepRecorder{}).sleep

	_, err = l.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "100", p.payloads()["waga1/value"])
	assert.Equal(t, "3000", p.payloads()["waga1/vcc"])
}

func TestRun_AbortsOnAcquisitionFailure(t *testing.T) {
	s := &fakeSampler{
		values: exampleValues(),
		fail:   func(cycle, call int) bool { return cycle == 2 && call == 3 },
	}
	p := &fakePublisher{}
	l, sleeps := newTestLoop(t, s, p, defaultOptions())

	err := l.Run(context.Background())

	var acqErr *sensor.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Len(t, p.attempts, 4, "only the first cycle publishes")
	assert.Equal(t, 1, l.Cycles())
	assert.Equal(t, 2, s.powerOff)
	assert.Contains(t, sleeps.sleeps, 10*time.Second)
}

func TestRun_SkipCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &fakeSampler{
		values: exampleValues(),
		fail:   func(cycle, call int) bool { return cycle == 1 && call == 2 },
	}
	p := &fakePublisher{onPublish: func(n int) {
		if n == 4 {
			cancel()
		}
	}}
	opts := defaultOptions()
	opts.Policy = SkipCycle
	l, _ := newTestLoop(t, s, p, opts)

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, p.attempts, 4)
	assert.Equal(t, 2, s.cycle)
	assert.Equal(t, 1, l.Cycles())
}

func TestRun_RetryNTimes(t *testing.T) {
	tests := []struct {
		name          string
		failingCycles int
		retries       int
		wantCanceled  bool
		wantPowerOns  int
		wantPublished int
	}{
		{name: "recovers within budget", failingCycles: 2, retries: 2, wantCanceled: true, wantPowerOns: 3, wantPublished: 4},
		{name: "exhausts budget", failingCycles: 2, retries: 1, wantPowerOns: 2},
		{name: "no failure", failingCycles: 0, retries: 1, wantCanceled: true, wantPowerOns: 1, wantPublished: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := &fakeSampler{
				values: exampleValues(),
				fail:   func(cycle, call int) bool { return cycle <= tt.failingCycles && call == 1 },
			}
			p := &fakePublisher{onPublish: func(n int) {
				if n == 4 {
					cancel()
				}
			}}
			opts := defaultOptions()
			opts.Policy = RetryNTimes
			opts.Retries = tt.retries
			opts.RetryDelay = time.Millisecond
			l, _ := newTestLoop(t, s, p, opts)

			err := l.Run(ctx)
			if tt.wantCanceled {
				assert.ErrorIs(t, err, context.Canceled)
			} else {
				var acqErr *sensor.AcquisitionError
				assert.ErrorAs(t, err, &acqErr)
			}
			assert.Equal(t, tt.wantPowerOns, s.cycle)
			assert.Equal(t, tt.wantPowerOns, s.powerOff)
			assert.Len(t, p.attempts, tt.wantPublished)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &fakeSampler{values: exampleValues()}
	p := &fakePublisher{}
	l, _ := newTestLoop(t, s, p, defaultOptions())

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.attempts)
	assert.Equal(t, 1, s.powerOff)
}

func TestRun_NonAcquisitionErrorIsFatalUnderSkip(t *testing.T) {
	opts := defaultOptions()
	opts.Policy = SkipCycle
	l, _ := newTestLoop(t, &fakeSampler{values: exampleValues()}, &fakePublisher{}, opts)

	boom := errors.New("boom")
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if d == opts.SampleDelay {
			return boom
		}
		return nil
	}

	assert.ErrorIs(t, l.Run(context.Background()), boom)
}

func TestNew_Validation(t *testing.T) {
	channels := ChannelsFromConfig(config.Default())

	tests := []struct {
		name     string
		channels []Channel
		mutate   func(o *Options)
		wantErr  bool
	}{
		{name: "defaults", channels: channels, mutate: func(o *Options) {}},
		{name: "zero samples", channels: channels, mutate: func(o *Options) { o.Samples = 0 }, wantErr: true},
		{name: "no channels", mutate: func(o *Options) {}, wantErr: true},
		{
			name:     "retry without retries",
			channels: channels,
			mutate: func(o *Options) {
				o.Policy = RetryNTimes
				o.Retries = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.mutate(&opts)
			l, err := New(&fakeSampler{}, &fakePublisher{}, tt.channels, opts, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, l)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, l)
			}
		})
	}
}

type nullBroker struct {
	messages map[string]string
}

func (b *nullBroker) Enqueue(topic string, payload []byte, q publish.Quality, retain bool) error {
	b.messages[topic] = string(payload)
	return nil
}

func TestLoop_WithSimulatedDriver(t *testing.T) {
	mockCfg := config.MockConfig{VCC: 1500, VBAT: 2000, Load: -403300, ChB: 5}
	drv := sensor.NewMock(&mockCfg)
	port := sensor.NewPort(drv, drv)

	broker := &nullBroker{messages: map[string]string{}}
	pub := publish.New(broker, testLogger())

	l, _ := newTestLoop(t, port, pub, defaultOptions())

	readings, err := l.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []sample.Reading{
		{Channel: sensor.Spec(sensor.VCC), Value: 3000},
		{Channel: sensor.Spec(sensor.VBAT), Value: 4000},
		{Channel: sensor.Spec(sensor.Gain128), Value: -403300},
		{Channel: sensor.Spec(sensor.Gain32), Value: 5},
	}, readings)
	assert.Equal(t, "3000", broker.messages["waga1/vcc"])
	assert.Equal(t, "-403300", broker.messages["waga1/value"])
}
