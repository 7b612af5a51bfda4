// ABOUTME: Raw ADC sample to voltage conversion and its exact inverse
// ABOUTME: Parameters live in an explicit struct swapped atomically by setters
package convert

import (
	"math"
	"sync/atomic"
)

// Front-end constants of the instrument board.
const (
	Vcc       = 3.3
	Reference = Vcc / 2
	R3        = 1000000.0
	R4        = 75000.0

	// FrontendGain is the input divider ratio R4/(R3+R4).
	FrontendGain = R4 / (R3 + R4)

	// Full-scale raw values per sample format.
	FullScale8Bit  = 128
	FullScale12Bit = 2048

	triggerSensitivityMultiplier = 4.0
)

// Params holds everything ToVoltage needs. Values are copied, never shared.
type Params struct {
	SupplyVoltage float64
	FrontendGain  float64
	ScopeGain     float64
	Reference     float64

	// Multimeter drops the DC reference offset; Invert negates multimeter readings.
	Multimeter bool
	Invert     bool

	// ACMean is the running mean subtracted when AC coupling is on.
	ACMean float64
}

func DefaultParams() Params {
	return Params{
		SupplyVoltage: Vcc,
		FrontendGain:  FrontendGain,
		ScopeGain:     1,
		Reference:     Reference,
	}
}

func (p Params) scale(fullScale int) float64 {
	return (p.SupplyVoltage / 2) / (p.FrontendGain * p.ScopeGain * float64(fullScale))
}

// ToVoltage maps a raw sample to volts at the probe tip.
func ToVoltage(sample int16, fullScale int, ac bool, p Params) float64 {
	v := float64(sample) * p.scale(fullScale)
	if !p.Multimeter {
		v += p.Reference
	} else if p.Invert {
		v = -v
	}
	if ac {
		v -= p.ACMean
	}
	return v
}

// FromVoltage is the algebraic inverse of ToVoltage, rounded to the nearest
// raw value and clamped to the int16 range.
func FromVoltage(v float64, fullScale int, ac bool, p Params) int16 {
	if ac {
		v += p.ACMean
	}
	if !p.Multimeter {
		v -= p.Reference
	} else if p.Invert {
		v = -v
	}
	return clamp16(math.Round(v / p.scale(fullScale)))
}

// TriggerLevel converts a trigger voltage into a raw level and a hysteresis
// band that grows with the voltage-per-sample ratio of the display.
func TriggerLevel(v float64, fullScale int, ac bool, p Params) (level, sensitivity int16) {
	level = FromVoltage(v, fullScale, ac, p)
	sensitivity = clamp16(math.Trunc(1 + math.Abs(v*triggerSensitivityMultiplier*float64(fullScale)/128)))
	return level, sensitivity
}

func clamp16(f float64) int16 {
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt16:
		return math.MaxInt16
	case f < math.MinInt16:
		return math.MinInt16
	}
	return int16(f)
}

// Settings is the externally mutated conversion configuration of one channel.
// Readers always observe a complete Params value.
type Settings struct {
	p atomic.Pointer[Params]
}

func NewSettings(p Params) *Settings {
	s := &Settings{}
	s.p.Store(&p)
	return s
}

func (s *Settings) Load() Params {
	return *s.p.Load()
}

func (s *Settings) Store(p Params) {
	s.p.Store(&p)
}

// Update applies fn to a copy of the current parameters and publishes it.
// Concurrent updaters retry until their change lands on the latest value.
func (s *Settings) Update(fn func(*Params)) {
	for {
		old := s.p.Load()
		next := *old
		fn(&next)
		if s.p.CompareAndSwap(old, &next) {
			return
		}
	}
}
