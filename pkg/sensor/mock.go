package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/itohio/gowaga/pkg/config"
)

// Mock simulates the sensor bridge for testing and development.
type Mock struct {
	cfg *config.MockConfig

	mu      sync.Mutex
	powered bool
	mode    Gain
	reads   int
}

// NewMock creates a new simulated sensor driver.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	return &Mock{cfg: cfg}
}

// PowerOn simulates waking the amplifier.
func (m *Mock) PowerOn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.powered = true
	return nil
}

// PowerOff simulates powering the amplifier down.
func (m *Mock) PowerOff(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.powered = false
	return nil
}

// SelectMode latches the gain for the next conversion.
func (m *Mock) SelectMode(ctx context.Context, g Gain) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.powered {
		return ErrPoweredDown
	}
	if g != GainA128 && g != GainB32 {
		return fmt.Errorf("unsupported gain %d", g)
	}

	m.mode = g
	return nil
}

// ConvertAndRead returns a simulated amplifier conversion for the latched gain.
func (m *Mock) ConvertAndRead(ctx context.Context) (RawSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.powered {
		return 0, ErrPoweredDown
	}
	if err := m.tick(); err != nil {
		return 0, err
	}

	base := m.cfg.ChB
	if m.mode == GainA128 {
		base = m.cfg.Load
	}

	v := int64(base) + m.noise()
	return clamp(v, amplifierMin, amplifierMax), nil
}

// ReadAnalog returns a simulated rail conversion.
func (m *Mock) ReadAnalog(ctx context.Context, ch ChannelSpec) (RawSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tick(); err != nil {
		return 0, err
	}

	var base uint16
	switch ch.Input {
	case 0:
		base = m.cfg.VCC
	case 1:
		base = m.cfg.VBAT
	default:
		return 0, fmt.Errorf("no analog input %d", ch.Input)
	}

	v := int64(base) + m.noise()
	return clamp(v, 0, 4095), nil
}

// Close is a no-op for the simulated driver.
func (m *Mock) Close() error {
	return nil
}

// tick counts a conversion and fails once FailAfter reads have been served.
func (m *Mock) tick() error {
	m.reads++
	if m.cfg.FailAfter > 0 && m.reads > m.cfg.FailAfter {
		return errors.New("simulated conversion failure")
	}
	return nil
}

// noise returns deterministic pseudo-noise within NoiseLevel counts.
func (m *Mock) noise() int64 {
	x := float64(m.reads)
	n := (math.Sin(x*0.7) + math.Cos(x*1.3)) * 0.5 * m.cfg.NoiseLevel
	return int64(math.Round(n))
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
