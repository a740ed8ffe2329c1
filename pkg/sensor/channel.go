package sensor

import "fmt"

// RawSample is one conversion result from one channel. Analog channels yield
// calibrated counts (millivolts at the pin), amplifier channels signed 24-bit
// counts.
type RawSample = int64

// Kind identifies one of the fixed measurement channels.
type Kind int

const (
	VCC     Kind = iota // Supply rail behind a halving divider
	VBAT                // Battery rail behind a halving divider
	Gain128             // Amplifier channel A, gain 128 (load cell)
	Gain32              // Amplifier channel B, gain 32
)

func (k Kind) String() string {
	switch k {
	case VCC:
		return "vcc"
	case VBAT:
		return "vbat"
	case Gain128:
		return "gain128"
	case Gain32:
		return "gain32"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Amplifier reports whether the channel is served by the load-cell amplifier.
func (k Kind) Amplifier() bool {
	return k == Gain128 || k == Gain32
}

// Gain is the amplifier mode-select value: input channel and gain together.
type Gain int

const (
	GainNone Gain = 0
	GainA128 Gain = 128
	GainB32  Gain = 32
)

// ChannelSpec describes how to read a channel and how to scale its mean.
type ChannelSpec struct {
	Kind  Kind
	Name  string
	Scale int64 // Multiplier applied to the mean (2 for the divided rails)
	Mode  Gain  // Amplifier mode to select before a read
	Input int   // Analog input index on the bridge
}

// Spec describes one of the fixed channels.
func Spec(k Kind) ChannelSpec {
	switch k {
	case VCC:
		return ChannelSpec{Kind: VCC, Name: "vcc", Scale: 2, Input: 0}
	case VBAT:
		return ChannelSpec{Kind: VBAT, Name: "vbat", Scale: 2, Input: 1}
	case Gain128:
		return ChannelSpec{Kind: Gain128, Name: "value", Scale: 1, Mode: GainA128}
	case Gain32:
		return ChannelSpec{Kind: Gain32, Name: "chb", Scale: 1, Mode: GainB32}
	default:
		panic(fmt.Sprintf("sensor: unknown channel %v", k))
	}
}

// Channels returns the four channels in acquisition order.
func Channels() []ChannelSpec {
	return []ChannelSpec{Spec(VCC), Spec(VBAT), Spec(Gain128), Spec(Gain32)}
}
