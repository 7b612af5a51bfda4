// ABOUTME: Tests for sample/voltage conversion
// ABOUTME: Verifies reference offset, AC coupling, and round-trip exactness
package convert

import (
	"math"
	"sync"
	"testing"
)

func TestToVoltage_ZeroIsReference(t *testing.T) {
	p := DefaultParams()

	v := ToVoltage(0, FullScale8Bit, false, p)
	if v != Reference {
		t.Errorf("expected %v, got %v", Reference, v)
	}
}

func TestToVoltage_FullScale(t *testing.T) {
	p := DefaultParams()

	v := ToVoltage(FullScale8Bit, FullScale8Bit, false, p)
	want := Reference + (Vcc/2)/FrontendGain
	if math.Abs(v-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, v)
	}
}

func TestToVoltage_MultimeterSkipsReference(t *testing.T) {
	p := DefaultParams()
	p.Multimeter = true

	if v := ToVoltage(0, FullScale12Bit, false, p); v != 0 {
		t.Errorf("expected 0V in multimeter mode, got %v", v)
	}

	p.Invert = true
	pos := ToVoltage(100, FullScale12Bit, false, p)
	if pos >= 0 {
		t.Errorf("inverted multimeter reading should be negative, got %v", pos)
	}
}

func TestToVoltage_ACSubtractsMean(t *testing.T) {
	p := DefaultParams()
	p.ACMean = 0.5

	dc := ToVoltage(10, FullScale8Bit, false, p)
	ac := ToVoltage(10, FullScale8Bit, true, p)
	if math.Abs(dc-ac-0.5) > 1e-12 {
		t.Errorf("AC reading should be DC minus mean, got dc=%v ac=%v", dc, ac)
	}
}

func TestRoundTrip(t *testing.T) {
	paramSets := []Params{
		DefaultParams(),
		{SupplyVoltage: Vcc, FrontendGain: FrontendGain, ScopeGain: 4, Reference: 1.65, ACMean: 0.3},
		{SupplyVoltage: Vcc, FrontendGain: FrontendGain, ScopeGain: 0.5, Reference: 1.2},
		{SupplyVoltage: Vcc, FrontendGain: 1, ScopeGain: 64, Multimeter: true},
		{SupplyVoltage: Vcc, FrontendGain: 1, ScopeGain: 2, Multimeter: true, Invert: true},
	}

	for pi, p := range paramSets {
		for _, fs := range []int{FullScale8Bit, FullScale12Bit} {
			for _, ac := range []bool{false, true} {
				for s := -2048; s <= 2048; s += 7 {
					raw := int16(s)
					got := FromVoltage(ToVoltage(raw, fs, ac, p), fs, ac, p)
					if d := int(got) - int(raw); d < -1 || d > 1 {
						t.Fatalf("params %d fs=%d ac=%v: %d round-tripped to %d", pi, fs, ac, raw, got)
					}
				}
			}
		}
	}
}

func TestFromVoltage_Clamps(t *testing.T) {
	p := DefaultParams()
	p.ScopeGain = 64

	if got := FromVoltage(1e6, FullScale12Bit, false, p); got != math.MaxInt16 {
		t.Errorf("expected clamp to %d, got %d", math.MaxInt16, got)
	}
	if got := FromVoltage(-1e6, FullScale12Bit, false, p); got != math.MinInt16 {
		t.Errorf("expected clamp to %d, got %d", math.MinInt16, got)
	}
}

func TestTriggerLevel(t *testing.T) {
	p := DefaultParams()

	level, sens := TriggerLevel(Reference, FullScale8Bit, false, p)
	if level != 0 {
		t.Errorf("trigger at reference voltage should be raw 0, got %d", level)
	}
	// 1 + |1.65 * 4 * 128 / 128| = 7.6 -> 7
	if sens != 7 {
		t.Errorf("expected sensitivity 7, got %d", sens)
	}
}

func TestSettings_Update(t *testing.T) {
	s := NewSettings(DefaultParams())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(p *Params) { p.ScopeGain++ })
		}()
	}
	wg.Wait()

	if got := s.Load().ScopeGain; got != 51 {
		t.Errorf("expected scope gain 51 after 50 increments, got %v", got)
	}
}
