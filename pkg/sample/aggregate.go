package sample

import (
	"fmt"

	"github.com/itohio/gowaga/pkg/sensor"
)

// Reading is the aggregated value of one channel for one cycle.
type Reading struct {
	Channel sensor.ChannelSpec
	Value   int64
}

// Reduce returns (sum(samples) * scale) / len(samples).
// Division truncates toward zero, so the result keeps the sign of the sum.
// samples must not be empty.
func Reduce(samples []sensor.RawSample, scale int64) int64 {
	if len(samples) == 0 {
		panic("sample: Reduce of empty sample set")
	}

	var sum int64
	for _, s := range samples {
		sum += s
	}

	return sum * scale / int64(len(samples))
}

// Aggregate reduces the samples of one channel using the channel scale.
func Aggregate(ch sensor.ChannelSpec, samples []sensor.RawSample) Reading {
	return Reading{
		Channel: ch,
		Value:   Reduce(samples, ch.Scale),
	}
}

// Window collects exactly N samples per channel for one cycle.
type Window struct {
	channels []sensor.ChannelSpec
	n        int
	samples  [][]sensor.RawSample
}

// NewWindow creates a window for the given channels and sample count.
func NewWindow(channels []sensor.ChannelSpec, n int) *Window {
	if n < 1 {
		panic(fmt.Sprintf("sample: window size must be at least 1, got %d", n))
	}

	samples := make([][]sensor.RawSample, len(channels))
	for i := range samples {
		samples[i] = make([]sensor.RawSample, 0, n)
	}

	return &Window{
		channels: channels,
		n:        n,
		samples:  samples,
	}
}

// Channels returns the channels in acquisition order.
func (w *Window) Channels() []sensor.ChannelSpec {
	return w.channels
}

// Size returns N.
func (w *Window) Size() int {
	return w.n
}

// Add appends a sample for the channel at index i.
func (w *Window) Add(i int, v sensor.RawSample) error {
	if len(w.samples[i]) >= w.n {
		return fmt.Errorf("channel %s already has %d samples", w.channels[i].Name, w.n)
	}
	w.samples[i] = append(w.samples[i], v)
	return nil
}

// Complete reports whether every channel holds N samples.
func (w *Window) Complete() bool {
	for _, s := range w.samples {
		if len(s) != w.n {
			return false
		}
	}
	return true
}

// Readings reduces every channel. It fails unless the window is complete.
func (w *Window) Readings() ([]Reading, error) {
	if !w.Complete() {
		return nil, fmt.Errorf("incomplete window: want %d samples per channel", w.n)
	}

	readings := make([]Reading, len(w.channels))
	for i, ch := range w.channels {
		readings[i] = Aggregate(ch, w.samples[i])
	}

	return readings, nil
}

// Reset drops all samples so the window can be reused for the next cycle.
func (w *Window) Reset() {
	for i := range w.samples {
		w.samples[i] = w.samples[i][:0]
	}
}
