// ABOUTME: Multimeter readings derived from the CH1 sample stream
// ABOUTME: Voltage and current statistics, resistance estimation and capacitance timing
package multimeter

import (
	"errors"
	"fmt"
	"math"

	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

type Type int

const (
	Voltage Type = iota
	Current
	Resistance
	Capacitance
)

func ParseType(s string) (Type, error) {
	switch s {
	case "v", "":
		return Voltage, nil
	case "i":
		return Current, nil
	case "r":
		return Resistance, nil
	case "c":
		return Capacitance, nil
	}
	return 0, fmt.Errorf("unknown multimeter type %q", s)
}

func (t Type) String() string {
	switch t {
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	case Resistance:
		return "resistance"
	case Capacitance:
		return "capacitance"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Capacitance measurement thresholds and debounce length.
const (
	CapVBot        = 0.8
	CapVTop        = 2.5
	DebounceTarget = 20

	chargeSeconds = 1.0
)

var ErrNoCharge = errors.New("multimeter: no complete charge curve in buffer")

// Quantity is one displayed value with its unit.
type Quantity struct {
	Label string
	Value float64
	Unit  string
}

func (q Quantity) String() string {
	return fmt.Sprintf("%s = %.4g %s", q.Label, q.Value, q.Unit)
}

type Reading struct {
	Type       Type
	Quantities []Quantity
}

type Config struct {
	Type             Type
	SeriesResistance float64
	// RSource selects the resistance test source voltage, 2*RSource+3 volts.
	RSource   int
	AutoScale bool
}

// ChargeSearcher is the buffer view capacitance timing needs.
type ChargeSearcher interface {
	ChargeSearch(offset, target int, seconds float64, threshold int16, cmp ring.Comparator) int
	SamplesPerSecond() float64
}

// Input carries the latest CH1 measurements into a reading.
type Input struct {
	Stats        convert.Stats
	MeanVoltage  float64
	CH2Reference float64
	Params       convert.Params
	Charge       ChargeSearcher
}

// Meter keeps the resistance estimate between readings, since each estimate
// corrects for the loading of the previous one.
type Meter struct {
	cfg       Config
	estimated float64
}

func NewMeter(cfg Config) *Meter {
	return &Meter{cfg: cfg}
}

func (m *Meter) Config() Config {
	return m.cfg
}

// SetConfig changes the measurement setup and forgets the resistance estimate.
func (m *Meter) SetConfig(cfg Config) {
	m.cfg = cfg
	m.estimated = 0
}

func (m *Meter) Measure(in Input) (Reading, error) {
	r := Reading{Type: m.cfg.Type}
	auto := m.cfg.AutoScale

	switch m.cfg.Type {
	case Voltage:
		r.Quantities = statQuantities(in.Stats, 1, "V", auto)
	case Current:
		r.Quantities = statQuantities(in.Stats, 1/m.cfg.SeriesResistance, "A", auto)
	case Resistance:
		if math.IsNaN(m.estimated) {
			m.estimated = 0
		}
		m.estimated = EstimateResistance(in.MeanVoltage, m.cfg.SeriesResistance, m.estimated, m.cfg.RSource, in.CH2Reference)
		v, unit := m.estimated, "Ω"
		if auto && v > 1000 {
			v, unit = v/1000, "kΩ"
		}
		r.Quantities = []Quantity{{Label: "Resistance", Value: v, Unit: unit}}
	case Capacitance:
		if in.Charge == nil {
			return r, ErrNoCharge
		}
		c, err := MeasureCapacitance(in.Charge, m.cfg.SeriesResistance, in.Params)
		if err != nil {
			return r, err
		}
		q := Quantity{Label: "Capacitance", Value: c * 1e9, Unit: "nF"}
		if !auto || c > 1e-6 {
			q.Value, q.Unit = c*1e6, "µF"
		}
		r.Quantities = []Quantity{q}
	default:
		return r, fmt.Errorf("multimeter: unsupported type %v", m.cfg.Type)
	}
	return r, nil
}

func statQuantities(st convert.Stats, factor float64, unit string, auto bool) []Quantity {
	pairs := []struct {
		label string
		v     float64
	}{
		{"Max", st.Max},
		{"Min", st.Min},
		{"Mean", st.Mean},
		{"RMS", st.RMS},
	}
	out := make([]Quantity, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, milli(p.label, p.v*factor, unit, auto))
	}
	return out
}

func milli(label string, v float64, unit string, auto bool) Quantity {
	if auto && math.Abs(v) < 1 {
		return Quantity{Label: label, Value: v * 1000, Unit: "m" + unit}
	}
	return Quantity{Label: label, Value: v, Unit: unit}
}

// EstimateResistance solves the divider formed by the unknown resistor and
// the series resistance in parallel with the front end, removing the CH2
// reference leaking through the previous estimate.
func EstimateResistance(vm, seriesR, previous float64, rSource int, ch2Ref float64) float64 {
	frontEnd := convert.R3 + convert.R4
	rpar := 1 / (1/seriesR + 1/previous)
	vm -= ch2Ref * (rpar / (frontEnd + rpar))

	vin := float64(rSource)*2 + 3
	vrat := (vin - vm) / vin
	rp := 1 / (1/seriesR + 1/frontEnd)
	return ((1 - vrat) / vrat) * rp
}

// MeasureCapacitance times the charge between CapVBot and CapVTop through
// seriesR. It needs a discharged stretch followed by a charge curve.
func MeasureCapacitance(cs ChargeSearcher, seriesR float64, p convert.Params) (float64, error) {
	p.Multimeter = true
	lo := convert.FromVoltage(CapVBot, convert.FullScale12Bit, false, p)
	hi := convert.FromVoltage(CapVTop, convert.FullScale12Bit, false, p)

	below, above := ring.Comparator(ring.Less), ring.Comparator(ring.Greater)
	if p.Invert {
		below, above = above, below
	}

	x0 := cs.ChargeSearch(0, DebounceTarget, chargeSeconds, lo, below)
	if x0 == ring.NotFound {
		return 0, fmt.Errorf("%w: no discharged run", ErrNoCharge)
	}
	x1 := cs.ChargeSearch(-x0, DebounceTarget, chargeSeconds, lo, above)
	if x1 == ring.NotFound {
		return 0, fmt.Errorf("%w: never rose above %.1f V", ErrNoCharge, CapVBot)
	}
	x2 := cs.ChargeSearch(-x1, DebounceTarget, chargeSeconds, hi, above)
	if x2 == ring.NotFound {
		return 0, fmt.Errorf("%w: never rose above %.1f V", ErrNoCharge, CapVTop)
	}

	dt := float64(x2-x1) / cs.SamplesPerSecond()
	return -dt / (seriesR * math.Log((convert.Vcc-CapVTop)/(convert.Vcc-CapVBot))), nil
}
