package sensor

import (
	"context"
	"sync"
)

// Port is the single owner of the sensor peripherals. Every read goes
// through it so the ADC and the amplifier are never accessed concurrently.
type Port struct {
	mu     sync.Mutex
	analog Analog
	amp    Amplifier
}

// NewPort creates a Port over the given drivers. A single Driver may serve both.
func NewPort(analog Analog, amp Amplifier) *Port {
	return &Port{
		analog: analog,
		amp:    amp,
	}
}

// Sample takes one reading from ch. Amplifier channels select their mode
// first, then block until the conversion completes. No retry is attempted.
func (p *Port) Sample(ctx context.Context, ch ChannelSpec) (RawSample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ch.Kind.Amplifier() {
		v, err := p.analog.ReadAnalog(ctx, ch)
		if err != nil {
			return 0, &AcquisitionError{Channel: ch.Name, Op: "read", Err: err}
		}
		return v, nil
	}

	if err := p.amp.SelectMode(ctx, ch.Mode); err != nil {
		return 0, &AcquisitionError{Channel: ch.Name, Op: "select mode", Err: err}
	}

	v, err := p.amp.ConvertAndRead(ctx)
	if err != nil {
		return 0, &AcquisitionError{Channel: ch.Name, Op: "read", Err: err}
	}

	return v, nil
}

// PowerOn enables the amplifier.
func (p *Port) PowerOn(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.amp.PowerOn(ctx); err != nil {
		return &AcquisitionError{Channel: AmplifierChannel, Op: "power on", Err: err}
	}
	return nil
}

// PowerOff puts the amplifier back to sleep.
func (p *Port) PowerOff(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.amp.PowerOff(ctx); err != nil {
		return &AcquisitionError{Channel: AmplifierChannel, Op: "power off", Err: err}
	}
	return nil
}
