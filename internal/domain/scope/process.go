// ABOUTME: Per-frame dispatch into channel buffers and windowed trace rendering
// ABOUTME: Buffers are cleared when the device switches between mode families
package scope

import (
	"encoding/binary"
	"fmt"

	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

type kind int

const (
	kindNone kind = iota
	kindAnalog
	kindDigital
	kindMeter
)

func channelKinds(mode domain.DeviceMode) (ch1, ch2 kind) {
	switch mode {
	case domain.ModeCH1Analog, domain.ModeFastAnalog:
		return kindAnalog, kindNone
	case domain.ModeCH1AnalogCH2Digital:
		return kindAnalog, kindDigital
	case domain.ModeDualAnalog:
		return kindAnalog, kindAnalog
	case domain.ModeCH1Digital:
		return kindDigital, kindNone
	case domain.ModeDualDigital:
		return kindDigital, kindDigital
	case domain.ModeMultimeter:
		return kindMeter, kindNone
	}
	return kindNone, kindNone
}

func analogFamily(m domain.DeviceMode) bool {
	return m == domain.ModeCH1Analog || m == domain.ModeCH1AnalogCH2Digital || m == domain.ModeDualAnalog
}

func logicFamily(m domain.DeviceMode) bool {
	return m == domain.ModeCH1Digital || m == domain.ModeDualDigital
}

// staleBuffers reports which buffers hold data that is meaningless in mode
// after running in prev.
func staleBuffers(mode, prev domain.DeviceMode) (ch1, ch2, fast bool) {
	switch mode {
	case domain.ModeCH1Analog:
		ch1 = !analogFamily(prev)
	case domain.ModeCH1AnalogCH2Digital, domain.ModeDualAnalog:
		ch1 = !analogFamily(prev)
		ch2 = prev != mode
	case domain.ModeCH1Digital:
		ch1 = !logicFamily(prev)
	case domain.ModeDualDigital:
		ch1 = !logicFamily(prev)
		ch2 = prev != mode
	case domain.ModeFastAnalog:
		fast = prev != mode
	case domain.ModeMultimeter:
		ch1 = prev != mode
	}
	return ch1, ch2, fast
}

func fullScale(mode domain.DeviceMode, ch Channel) int {
	if mode == domain.ModeMultimeter && ch == CH1 {
		return convert.FullScale12Bit
	}
	return convert.FullScale8Bit
}

// Process inserts one frame into the buffers its mode feeds.
func (s *Scope) Process(f domain.Frame) error {
	mode := f.Mode
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	c1, c2, cf := staleBuffers(mode, s.prev)
	if c1 {
		s.ch1.Clear()
	}
	if c2 {
		s.ch2.Clear()
	}
	if cf {
		s.fast.Clear()
	}

	if mode != s.prev {
		s.switchMode(mode)
	}

	_, k2 := channelKinds(mode)
	for p := 0; p < f.Packets(); p++ {
		pkt := f.Data[p*domain.PacketBytes : (p+1)*domain.PacketBytes]

		switch mode {
		case domain.ModeFastAnalog:
			if !s.paused1.Load() {
				s.fast.WriteBytes(pkt)
			}
		case domain.ModeMultimeter:
			if !s.pausedMM.Load() {
				for i := range s.shorts {
					s.shorts[i] = int16(binary.LittleEndian.Uint16(pkt[2*i:]))
				}
				s.ch1.WriteShorts(s.shorts)
			}
		case domain.ModeGeneratorOnly:
		default:
			if !s.paused1.Load() {
				s.ch1.WriteBytes(pkt[:domain.HalfPacket])
			}
			if k2 != kindNone && !s.paused2.Load() {
				s.ch2.WriteBytes(pkt[domain.HalfPacket:])
			}
		}
	}
	return nil
}

// switchMode moves per-mode state over to mode. Caller holds procMu.
func (s *Scope) switchMode(mode domain.DeviceMode) {
	s.log.Debug("device mode changed", "from", s.prev, "to", mode)
	s.prev = mode
	s.mode.Store(int32(mode))

	s.conv1.Update(func(p *convert.Params) {
		p.Multimeter = mode == domain.ModeMultimeter
	})

	s.ctrlMu.Lock()
	s.applyTriggerLevel()
	s.ctrlMu.Unlock()

	if s.recording {
		s.attachRecorder(mode)
	}
}

func (s *Scope) primaryBuffer(mode domain.DeviceMode) *ring.Buffer {
	if mode == domain.ModeFastAnalog {
		return s.fast
	}
	return s.ch1
}

// Render reads the current display window from every active channel. It
// reports false in modes without scope data.
func (s *Scope) Render() (Trace, bool) {
	mode := s.Mode()
	k1, k2 := channelKinds(mode)
	if k1 == kindNone {
		return Trace{}, false
	}

	disp := *s.display.Load()
	ts := *s.trigger.Load()
	b1 := s.primaryBuffer(mode)
	sps := b1.SamplesPerSecond()

	delay := disp.Delay * sps
	triggered := false
	if ts.Enabled {
		tb := b1
		if ts.Mode.onCH2() {
			tb = s.ch2
		}
		if d, ok := tb.DelayedTriggerPoint(disp.Delay, disp.Window); ok {
			delay = float64(d)
			triggered = true
		}
	}
	if triggered && ts.SingleShot {
		s.fireSingleShot()
	}

	n := s.cfg.GraphSamples
	tr := Trace{Mode: mode, Triggered: triggered, Time: make([]float64, n)}
	delaySeconds := delay / sps
	for i := range tr.Time {
		tr.Time[i] = -(disp.Window*float64(i))/float64(n-1) - delaySeconds
	}

	raw1 := b1.ReadWindow(disp.Window, n, k1 == kindDigital, delay)
	switch k1 {
	case kindAnalog:
		tr.CH1, tr.Stats1 = s.AnalogConvert(raw1, CH1)
	case kindDigital:
		tr.CH1 = convert.Digital(raw1, disp.Top, disp.Bottom)
	case kindMeter:
		tr.CH1, tr.Stats1 = convert.Analog(raw1, convert.FullScale12Bit, false, s.conv1.Load())
	}
	if k1 != kindDigital {
		st := tr.Stats1
		s.stats1.Store(&st)
	}

	if k2 != kindNone {
		raw2 := s.ch2.ReadWindow(disp.Window, n, k2 == kindDigital, delay)
		if k2 == kindDigital {
			tr.CH2 = convert.Digital(raw2, disp.Top, disp.Bottom)
		} else {
			tr.CH2, tr.Stats2 = s.AnalogConvert(raw2, CH2)
			st := tr.Stats2
			s.stats2.Store(&st)
		}
	}
	return tr, true
}

// AnalogConvert converts a raw 8-bit window from ch with its coupling,
// attenuation and offset applied. AC channels update their running mean.
func (s *Scope) AnalogConvert(raw []int16, ch Channel) ([]float64, convert.Stats) {
	cc := *s.channelConfig(ch).Load()
	settings := s.settings(ch)

	out, st := convert.Analog(raw, convert.FullScale8Bit, cc.AC, settings.Load())
	for i := range out {
		out[i] = out[i]/cc.Attenuation + cc.Offset
	}
	if cc.AC && len(raw) > 0 {
		settings.Update(func(p *convert.Params) { p.ACMean = st.DC })
	}
	return out, st
}

// MeanVoltageLast averages the channel's DC voltage over the last seconds.
func (s *Scope) MeanVoltageLast(seconds float64, ch Channel) float64 {
	buf, err := s.Buffer(ch)
	if err != nil {
		return 0
	}
	fs := fullScale(s.Mode(), ch)
	p := s.settings(ch).Load()

	raw := buf.ReadWindow(seconds, meanSamples, false, 0)
	var sum float64
	for _, r := range raw {
		sum += convert.ToVoltage(r, fs, false, p)
	}
	return sum / float64(len(raw))
}
