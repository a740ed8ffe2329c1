package sensor

import (
	"context"
	"errors"
	"testing"

	"github.com/itohio/gowaga/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_Readings(t *testing.T) {
	cfg := &config.MockConfig{VCC: 1650, VBAT: 2050, Load: -403300, ChB: 12000}
	m := NewMock(cfg)
	ctx := context.Background()

	vcc, err := m.ReadAnalog(ctx, Spec(VCC))
	require.NoError(t, err)
	assert.Equal(t, RawSample(1650), vcc)

	vbat, err := m.ReadAnalog(ctx, Spec(VBAT))
	require.NoError(t, err)
	assert.Equal(t, RawSample(2050), vbat)

	require.NoError(t, m.PowerOn(ctx))
	require.NoError(t, m.SelectMode(ctx, GainA128))
	v, err := m.ConvertAndRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, RawSample(-403300), v)

	require.NoError(t, m.SelectMode(ctx, GainB32))
	v, err = m.ConvertAndRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, RawSample(12000), v)
}

func TestMock_PoweredDown(t *testing.T) {
	m := NewMock(nil)
	ctx := context.Background()

	assert.True(t, errors.Is(m.SelectMode(ctx, GainA128), ErrPoweredDown))

	require.NoError(t, m.PowerOn(ctx))
	require.NoError(t, m.SelectMode(ctx, GainA128))
	require.NoError(t, m.PowerOff(ctx))

	_, err := m.ConvertAndRead(ctx)
	assert.True(t, errors.Is(err, ErrPoweredDown))
}

func TestMock_NoiseStaysWithinLevel(t *testing.T) {
	cfg := &config.MockConfig{VCC: 1000, NoiseLevel: 10}
	m := NewMock(cfg)

	for n := 0; n < 100; n++ {
		v, err := m.ReadAnalog(context.Background(), Spec(VCC))
		require.NoError(t, err)
		assert.InDelta(t, 1000, v, 10)
	}
}

func TestMock_FailAfter(t *testing.T) {
	cfg := &config.MockConfig{VCC: 1000, FailAfter: 2}
	m := NewMock(cfg)
	ctx := context.Background()

	_, err := m.ReadAnalog(ctx, Spec(VCC))
	require.NoError(t, err)
	_, err = m.ReadAnalog(ctx, Spec(VCC))
	require.NoError(t, err)
	_, err = m.ReadAnalog(ctx, Spec(VCC))
	assert.Error(t, err)
}

func TestMock_UnknownInput(t *testing.T) {
	m := NewMock(nil)
	_, err := m.ReadAnalog(context.Background(), ChannelSpec{Input: 7})
	assert.Error(t, err)
}
