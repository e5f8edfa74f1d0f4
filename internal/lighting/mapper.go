package lighting

import (
	"math"
	"time"
)

const MaxBrightness = 255

// Mapper turns an amplitude envelope into a brightness series of the same
// length. prev is the smoothed value left by the previous call and the
// returned float is the value to pass to the next one.
type Mapper interface {
	Map(envelope []float64, prev float64) ([]uint8, float64)
}

// Smoother follows the envelope with separate attack and release time
// constants so light rises on speech onsets faster than it fades.
type Smoother struct {
	Scale   float64
	Attack  time.Duration
	Release time.Duration
	Slice   time.Duration
}

func NewSmoother(attack, release, slice time.Duration) Smoother {
	return Smoother{Scale: MaxBrightness, Attack: attack, Release: release, Slice: slice}
}

func (s Smoother) Map(envelope []float64, prev float64) ([]uint8, float64) {
	up := coefficient(s.Slice, s.Attack)
	down := coefficient(s.Slice, s.Release)

	out := make([]uint8, len(envelope))
	y := clamp(prev)
	for i, x := range envelope {
		target := clamp(s.Scale * x)
		alpha := down
		if target > y {
			alpha = up
		}
		y += alpha * (target - y)
		out[i] = uint8(math.Round(clamp(y)))
	}
	return out, y
}

// coefficient is the one-pole smoothing factor for one slice. A zero time
// constant jumps straight to the target.
func coefficient(slice, tau time.Duration) float64 {
	if tau <= 0 || slice <= 0 {
		return 1
	}
	return 1 - math.Exp(-float64(slice)/float64(tau))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > MaxBrightness:
		return MaxBrightness
	default:
		return v
	}
}

// Constant is the disabled mapper: every sample is Level.
type Constant struct {
	Level uint8
}

func (c Constant) Map(envelope []float64, _ float64) ([]uint8, float64) {
	out := make([]uint8, len(envelope))
	for i := range out {
		out[i] = c.Level
	}
	return out, float64(c.Level)
}
