package sample

import "github.com/chewxy/math32"

// Calibration is a per-deployment linear transform: round((v - Offset) * Gain).
// A zero Gain is treated as 1, so the zero value passes readings through.
type Calibration struct {
	Offset float32
	Gain   float32
}

// Identity reports whether Apply returns its input unchanged.
func (c Calibration) Identity() bool {
	return c.Offset == 0 && (c.Gain == 0 || c.Gain == 1)
}

// Apply transforms an aggregated value.
func (c Calibration) Apply(v int64) int64 {
	if c.Identity() {
		return v
	}

	gain := c.Gain
	if gain == 0 {
		gain = 1
	}

	return int64(math32.Round((float32(v) - c.Offset) * gain))
}
