package sensor

import "context"

// Analog performs single conversions on the analog rails.
type Analog interface {
	// ReadAnalog performs one conversion and returns the calibrated raw count.
	ReadAnalog(ctx context.Context, ch ChannelSpec) (RawSample, error)
}

// Amplifier drives the load-cell amplifier.
type Amplifier interface {
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	// SelectMode latches a new gain. The driver discards one conversion to do so.
	SelectMode(ctx context.Context, g Gain) error
	// ConvertAndRead blocks until the next conversion completes.
	ConvertAndRead(ctx context.Context) (RawSample, error)
}

// Driver defines the interface for sensor peripherals (real or mocked).
type Driver interface {
	Analog
	Amplifier
	Close() error
}

// Ensure Bridge implements Driver.
var _ Driver = (*Bridge)(nil)

// Ensure Mock implements Driver.
var _ Driver = (*Mock)(nil)
