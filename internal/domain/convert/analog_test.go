// ABOUTME: Tests for whole-trace analog and digital conversion
// ABOUTME: Verifies statistics with and without AC coupling
package convert

import (
	"math"
	"testing"
)

func TestAnalog_Stats(t *testing.T) {
	p := DefaultParams()
	in := []int16{0, 0, 0, 0}

	out, st := Analog(in, FullScale8Bit, false, p)

	for i, v := range out {
		if v != Reference {
			t.Errorf("sample %d: expected %v, got %v", i, Reference, v)
		}
	}
	if st.Max != Reference || st.Min != Reference || st.Mean != Reference {
		t.Errorf("flat trace should have max=min=mean=%v, got %+v", Reference, st)
	}
	if math.Abs(st.RMS-Reference) > 1e-12 {
		t.Errorf("expected RMS %v, got %v", Reference, st.RMS)
	}
}

func TestAnalog_AC(t *testing.T) {
	p := DefaultParams()
	in := []int16{-10, 10, -10, 10}

	out, st := Analog(in, FullScale8Bit, true, p)

	if math.Abs(st.Mean) > 1e-12 {
		t.Errorf("AC mean should be zero, got %v", st.Mean)
	}
	if math.Abs(st.Max+st.Min) > 1e-12 {
		t.Errorf("AC square wave should be symmetric, got max=%v min=%v", st.Max, st.Min)
	}
	if math.Abs(st.RMS-st.Max) > 1e-12 {
		t.Errorf("square wave RMS should equal its amplitude, got %v vs %v", st.RMS, st.Max)
	}
	if math.Abs(st.DC-Reference) > 1e-12 {
		t.Errorf("DC mean should stay at the reference, got %v", st.DC)
	}
	if out[1] <= 0 || out[0] >= 0 {
		t.Errorf("expected alternating signs, got %v", out)
	}
}

func TestAnalog_Empty(t *testing.T) {
	out, st := Analog(nil, FullScale8Bit, true, DefaultParams())
	if len(out) != 0 || st != (Stats{}) {
		t.Errorf("empty input should give empty output and zero stats, got %v %+v", out, st)
	}
}

func TestDigital(t *testing.T) {
	out := Digital([]int16{1, 0, 1}, 5, -5)

	want := []float64{4, -4, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("element %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestSummarise(t *testing.T) {
	st := Summarise([]float64{3, -4})
	if st.Max != 3 || st.Min != -4 || st.Mean != -0.5 {
		t.Errorf("expected max 3 min -4 mean -0.5, got %+v", st)
	}
	if math.Abs(st.RMS-math.Sqrt(12.5)) > 1e-12 {
		t.Errorf("expected RMS %v, got %v", math.Sqrt(12.5), st.RMS)
	}
	if Summarise(nil) != (Stats{}) {
		t.Error("expected zero stats for no values")
	}
}
