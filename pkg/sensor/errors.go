package sensor

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the bridge does not answer within the read timeout.
	ErrTimeout = errors.New("sensor read timed out")
	// ErrRemote is returned when the bridge answers with an error line.
	ErrRemote = errors.New("sensor bridge error")
	// ErrPoweredDown is returned when the amplifier is read while powered down.
	ErrPoweredDown = errors.New("amplifier powered down")
)

// AmplifierChannel names power transitions, which belong to no single channel.
const AmplifierChannel = "amplifier"

// AcquisitionError reports that a channel could not be sampled.
type AcquisitionError struct {
	Channel string
	Op      string
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed on %s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}
