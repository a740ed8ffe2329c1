package telemetry

import (
	"fmt"

	"github.com/itohio/gowaga/pkg/config"
	"github.com/itohio/gowaga/pkg/publish"
	"github.com/itohio/gowaga/pkg/sample"
	"github.com/itohio/gowaga/pkg/sensor"
)

// Channel binds a sensor channel to its topic and publishing policy.
type Channel struct {
	Spec        sensor.ChannelSpec
	Topic       string
	Retain      bool
	Calibration sample.Calibration
}

// Policy decides what a failed acquisition does to the run.
type Policy int

const (
	// AbortRun ends the run on the first acquisition failure.
	AbortRun Policy = iota
	// SkipCycle drops the cycle and carries on with the next one.
	SkipCycle
	// RetryNTimes re-acquires the whole cycle a bounded number of times,
	// then ends the run.
	RetryNTimes
)

func (p Policy) String() string {
	switch p {
	case AbortRun:
		return config.AbortRun
	case SkipCycle:
		return config.SkipCycle
	case RetryNTimes:
		return config.RetryNTimes
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case config.AbortRun, "":
		return AbortRun, nil
	case config.SkipCycle:
		return SkipCycle, nil
	case config.RetryNTimes:
		return RetryNTimes, nil
	default:
		return 0, fmt.Errorf("unknown acquisition policy %q", s)
	}
}

// ChannelsFromConfig returns the four channels in acquisition order with
// topics namespaced under the device id.
func ChannelsFromConfig(cfg *config.Config) []Channel {
	bind := func(k sensor.Kind, c config.ChannelConfig) Channel {
		return Channel{
			Spec:   sensor.Spec(k),
			Topic:  publish.Topic(cfg.Device.ID, c.Topic),
			Retain: c.Retained(),
			Calibration: sample.Calibration{
				Offset: c.Calibration.Offset,
				Gain:   c.Calibration.Gain,
			},
		}
	}

	return []Channel{
		bind(sensor.VCC, cfg.Channels.VCC),
		bind(sensor.VBAT, cfg.Channels.VBAT),
		bind(sensor.Gain128, cfg.Channels.Value),
		bind(sensor.Gain32, cfg.Channels.ChB),
	}
}

// OptionsFromConfig extracts the loop options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := ParsePolicy(cfg.Acquisition.OnFailure)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Samples:     cfg.Sampling.Samples,
		SampleDelay: cfg.Sampling.SampleDelay,
		CycleDelay:  cfg.Sampling.CycleDelay,
		Policy:      policy,
		Retries:     cfg.Acquisition.Retries,
		RetryDelay:  cfg.Acquisition.RetryDelay,
	}, nil
}
