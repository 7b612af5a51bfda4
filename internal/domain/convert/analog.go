// ABOUTME: Whole-trace conversion of raw windows into display voltages
// ABOUTME: Computes max, min, mean and RMS alongside the converted samples
package convert

import "math"

// Stats summarises one converted trace.
type Stats struct {
	Max  float64
	Min  float64
	Mean float64
	RMS  float64

	// DC is the trace mean before any AC removal.
	DC float64
}

// Analog converts a raw window to volts. With ac set the trace mean is
// removed and the statistics describe the AC component only.
func Analog(in []int16, fullScale int, ac bool, p Params) ([]float64, Stats) {
	out := make([]float64, len(in))
	if len(in) == 0 {
		return out, Stats{}
	}
	for i, s := range in {
		out[i] = ToVoltage(s, fullScale, false, p)
	}
	st := Summarise(out)
	dc := st.Mean
	if ac {
		for i := range out {
			out[i] -= dc
		}
		st = Summarise(out)
	}
	st.DC = dc
	return out, st
}

// Summarise computes the statistics of v. DC is left for the caller.
func Summarise(v []float64) Stats {
	if len(v) == 0 {
		return Stats{}
	}
	st := Stats{Max: math.Inf(-1), Min: math.Inf(1)}
	var sum, sq float64
	for _, x := range v {
		sum += x
		sq += x * x
		st.Max = max(st.Max, x)
		st.Min = min(st.Min, x)
	}
	n := float64(len(v))
	st.Mean = sum / n
	st.RMS = math.Sqrt(sq / n)
	return st
}

// Digital maps logic samples onto the display range, high at 90% of the
// span and low at 10%.
func Digital(in []int16, top, bot float64) []float64 {
	span := (top - bot) / 10
	hi, lo := top-span, bot+span
	out := make([]float64, len(in))
	for i, s := range in {
		if s != 0 {
			out[i] = hi
		} else {
			out[i] = lo
		}
	}
	return out
}
