package sample

import (
	"testing"

	"github.com/itohio/gowaga/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	tests := []struct {
		name    string
		samples []sensor.RawSample
		scale   int64
		want    int64
	}{
		{name: "single analog sample", samples: []sensor.RawSample{1500}, scale: 2, want: 3000},
		{name: "single amplifier sample", samples: []sensor.RawSample{-403300}, scale: 1, want: -403300},
		{name: "exact mean", samples: []sensor.RawSample{10, 20, 30}, scale: 1, want: 20},
		{name: "truncates positive", samples: []sensor.RawSample{1, 2}, scale: 1, want: 1},
		{name: "truncates toward zero for negative sums", samples: []sensor.RawSample{-1, -2}, scale: 1, want: -1},
		{name: "scale applied before division", samples: []sensor.RawSample{1, 2}, scale: 2, want: 3},
		{name: "mixed signs", samples: []sensor.RawSample{-5, 2}, scale: 1, want: -1},
		{name: "24-bit extremes", samples: []sensor.RawSample{-8388608, -8388608, 8388607}, scale: 1, want: -2796203},
		{name: "analog divider", samples: []sensor.RawSample{1649, 1650, 1652}, scale: 2, want: 3300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.samples, tt.scale))
		})
	}
}

func TestReduce_MatchesFormula(t *testing.T) {
	// Pseudo-random sequences over a range of N and scales.
	seed := int64(12345)
	next := func() int64 {
		seed = (seed*1103515245 + 12345) % (1 << 31)
		return seed%(1<<24) - (1 << 23)
	}

	for n := 1; n <= 32; n++ {
		samples := make([]sensor.RawSample, n)
		var sum int64
		for i := range samples {
			samples[i] = next()
			sum += samples[i]
		}
		for _, scale := range []int64{1, 2, 3} {
			want := sum * scale / int64(n)
			assert.Equal(t, want, Reduce(samples, scale), "n=%d scale=%d", n, scale)
		}
	}
}

func TestReduce_Deterministic(t *testing.T) {
	samples := []sensor.RawSample{-403300, -403310, -403290, -403305}
	first := Reduce(samples, 1)
	for n := 0; n < 10; n++ {
		assert.Equal(t, first, Reduce(samples, 1))
	}
}

func TestReduce_EmptyPanics(t *testing.T) {
	assert.Panics(t, func() { Reduce(nil, 1) })
}

func TestAggregate_UsesChannelScale(t *testing.T) {
	r := Aggregate(sensor.Spec(sensor.VCC), []sensor.RawSample{1500})
	assert.Equal(t, int64(3000), r.Value)
	assert.Equal(t, sensor.VCC, r.Channel.Kind)

	r = Aggregate(sensor.Spec(sensor.Gain128), []sensor.RawSample{-403300})
	assert.Equal(t, int64(-403300), r.Value)
}

func TestWindow(t *testing.T) {
	w := NewWindow(sensor.Channels(), 2)
	assert.Equal(t, 2, w.Size())
	assert.False(t, w.Complete())

	for round := 0; round < 2; round++ {
		for i := range w.Channels() {
			require.NoError(t, w.Add(i, sensor.RawSample(100*(i+1)+round)))
		}
	}
	assert.True(t, w.Complete())
	assert.Error(t, w.Add(0, 1), "a channel never takes more than N samples")

	readings, err := w.Readings()
	require.NoError(t, err)
	require.Len(t, readings, 4)
	assert.Equal(t, int64(201), readings[0].Value) // (100+101)*2/2
	assert.Equal(t, int64(401), readings[1].Value)
	assert.Equal(t, int64(300), readings[2].Value) // (300+301)/2
	assert.Equal(t, int64(400), readings[3].Value)

	w.Reset()
	assert.False(t, w.Complete())
	_, err = w.Readings()
	assert.Error(t, err)
}

func TestWindow_IncompleteChannel(t *testing.T) {
	w := NewWindow(sensor.Channels(), 1)
	require.NoError(t, w.Add(0, 1))
	require.NoError(t, w.Add(1, 1))
	require.NoError(t, w.Add(2, 1))

	_, err := w.Readings()
	assert.Error(t, err)
}

func TestNewWindow_InvalidSize(t *testing.T) {
	assert.Panics(t, func() { NewWindow(sensor.Channels(), 0) })
}
