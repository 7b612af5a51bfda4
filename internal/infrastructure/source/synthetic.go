// ABOUTME: Synthetic frame source generating instrument packets from a waveform model
// ABOUTME: Packs analog, logic and multimeter data exactly as the device would
package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
)

type Waveform int

const (
	WaveDC Waveform = iota
	WaveSine
	WaveSquare
	WaveTriangle
)

func ParseWaveform(s string) (Waveform, error) {
	switch s {
	case "dc":
		return WaveDC, nil
	case "sine", "":
		return WaveSine, nil
	case "square":
		return WaveSquare, nil
	case "triangle":
		return WaveTriangle, nil
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

const (
	slowRate = 375000.0
	fastRate = 750000.0
)

type SyntheticConfig struct {
	Mode        domain.DeviceMode
	Waveform    Waveform
	FrequencyHz float64
	AmplitudeV  float64
	OffsetV     float64

	// PacketsPerRead is the number of 1 ms packets in each frame.
	PacketsPerRead int
	// Interval paces reads in real time; zero returns frames immediately.
	Interval time.Duration

	Params convert.Params
}

type Synthetic struct {
	cfg    SyntheticConfig
	sample uint64
	ticker *time.Ticker
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.PacketsPerRead < 1 {
		cfg.PacketsPerRead = 1
	}
	if cfg.Params.ScopeGain == 0 {
		cfg.Params = convert.DefaultParams()
	}
	s := &Synthetic{cfg: cfg}
	if cfg.Interval > 0 {
		s.ticker = time.NewTicker(cfg.Interval)
	}
	return s
}

// Voltage returns the modelled probe voltage at time t seconds.
func (s *Synthetic) Voltage(t float64) float64 {
	c := s.cfg
	phase := c.FrequencyHz * t
	phase -= math.Floor(phase)

	var shape float64
	switch c.Waveform {
	case WaveDC:
		shape = 0
	case WaveSine:
		shape = math.Sin(2 * math.Pi * phase)
	case WaveSquare:
		shape = -1
		if phase >= 0.5 {
			shape = 1
		}
	case WaveTriangle:
		shape = 4*math.Abs(phase-0.5) - 1
	}
	return c.OffsetV + c.AmplitudeV*shape
}

func (s *Synthetic) logic(t float64) bool {
	return s.Voltage(t) > s.cfg.OffsetV
}

func (s *Synthetic) ReadFrame(ctx context.Context) (domain.Frame, error) {
	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return domain.Frame{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	mode := s.cfg.Mode
	data := make([]byte, s.cfg.PacketsPerRead*domain.PacketBytes)
	for p := 0; p < s.cfg.PacketsPerRead; p++ {
		s.fillPacket(data[p*domain.PacketBytes:(p+1)*domain.PacketBytes], mode)
	}
	return domain.Frame{Mode: mode, Data: data}, nil
}

func (s *Synthetic) fillPacket(pkt []byte, mode domain.DeviceMode) {
	half := domain.HalfPacket

	switch mode {
	case domain.ModeCH1Analog:
		s.analog(pkt[:half], slowRate)
	case domain.ModeCH1AnalogCH2Digital:
		s.analog(pkt[:half], slowRate)
		s.digital(pkt[half:], slowRate)
	case domain.ModeDualAnalog:
		s.analog(pkt[:half], slowRate)
		s.analog(pkt[half:], slowRate)
	case domain.ModeCH1Digital:
		s.digital(pkt[:half], slowRate)
	case domain.ModeDualDigital:
		s.digital(pkt[:half], slowRate)
		s.digital(pkt[half:], slowRate)
	case domain.ModeFastAnalog:
		s.analog(pkt, fastRate)
		s.sample += uint64(len(pkt))
		return
	case domain.ModeMultimeter:
		s.multimeter(pkt)
	}
	s.sample += uint64(half)
}

// analog writes signed 8-bit samples starting at the current sample clock.
func (s *Synthetic) analog(dst []byte, rate float64) {
	for i := range dst {
		t := float64(s.sample+uint64(i)) / rate
		raw := convert.FromVoltage(s.Voltage(t), convert.FullScale8Bit, false, s.cfg.Params)
		dst[i] = byte(int8(clamp(raw, math.MinInt8, math.MaxInt8)))
	}
}

// digital packs eight logic sub-samples per byte; bit b of sample k covers
// the time (k-1+b/8) sample periods.
func (s *Synthetic) digital(dst []byte, rate float64) {
	for i := range dst {
		k := float64(s.sample+uint64(i)) - 1
		var v byte
		for b := 0; b < 8; b++ {
			if s.logic((k + float64(b)/8) / rate) {
				v |= 1 << b
			}
		}
		dst[i] = v
	}
}

// multimeter writes left-aligned 12-bit little-endian words; the last word
// of each packet carries no sample.
func (s *Synthetic) multimeter(dst []byte) {
	p := s.cfg.Params
	p.Multimeter = true
	for i := 0; i < domain.MultimeterValid; i++ {
		t := float64(s.sample+uint64(i)) / slowRate
		raw := clamp(convert.FromVoltage(s.Voltage(t), convert.FullScale12Bit, false, p), -2048, 2047)
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(raw<<4))
	}
	binary.LittleEndian.PutUint16(dst[2*domain.MultimeterValid:], 0)
}

func clamp(v, lo, hi int16) int16 {
	return max(lo, min(v, hi))
}

func (s *Synthetic) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}
