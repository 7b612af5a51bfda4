// ABOUTME: Runtime controls for the scope: trigger, display, channels, pause and gain
// ABOUTME: Setters publish immutable snapshots read by the acquisition goroutine
package scope

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/domain/multimeter"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

// gainDelayTicks is how many timer periods pass before stored samples are
// rescaled, so frames captured at the old gain have landed.
const gainDelayTicks = 4

type TriggerMode int

const (
	TriggerRisingCH1 TriggerMode = iota
	TriggerFallingCH1
	TriggerRisingCH2
	TriggerFallingCH2
	TriggerGeneratorCH1
	TriggerGeneratorCH2
)

var triggerModeNames = map[string]TriggerMode{
	"rising_ch1":    TriggerRisingCH1,
	"falling_ch1":   TriggerFallingCH1,
	"rising_ch2":    TriggerRisingCH2,
	"falling_ch2":   TriggerFallingCH2,
	"generator_ch1": TriggerGeneratorCH1,
	"generator_ch2": TriggerGeneratorCH2,
}

func ParseTriggerMode(s string) (TriggerMode, error) {
	if s == "" {
		return TriggerRisingCH1, nil
	}
	m, ok := triggerModeNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown trigger mode %q", s)
	}
	return m, nil
}

func (m TriggerMode) onCH2() bool {
	return m == TriggerRisingCH2 || m == TriggerFallingCH2
}

type TriggerSettings struct {
	Enabled    bool
	Mode       TriggerMode
	Level      float64 // volts
	SingleShot bool
}

// AttenuationFromIndex maps the probe attenuation selector to its divisor.
func AttenuationFromIndex(i int) (float64, error) {
	switch i {
	case 0:
		return 1, nil
	case 1:
		return 5, nil
	case 2:
		return 10, nil
	}
	return 0, fmt.Errorf("unknown attenuation index %d", i)
}

func (s *Scope) TriggerSettings() TriggerSettings {
	return *s.trigger.Load()
}

func (s *Scope) updateTrigger(fn func(*TriggerSettings)) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	ts := *s.trigger.Load()
	fn(&ts)
	s.trigger.Store(&ts)
	s.applyTrigger()
}

func (s *Scope) SetTriggerEnabled(enabled bool) {
	s.updateTrigger(func(ts *TriggerSettings) { ts.Enabled = enabled })
}

func (s *Scope) SetTriggerMode(m TriggerMode) {
	s.updateTrigger(func(ts *TriggerSettings) { ts.Mode = m })
}

func (s *Scope) SetTriggerLevel(volts float64) {
	s.updateTrigger(func(ts *TriggerSettings) { ts.Level = volts })
}

func (s *Scope) SetSingleShot(enabled bool) {
	s.updateTrigger(func(ts *TriggerSettings) { ts.SingleShot = enabled })
}

// applyTrigger pushes the trigger snapshot into the buffers. Caller holds
// ctrlMu, except during construction.
func (s *Scope) applyTrigger() {
	ts := s.trigger.Load()
	t1, t2 := ring.TriggerDisabled, ring.TriggerDisabled
	if ts.Enabled {
		switch ts.Mode {
		case TriggerRisingCH1:
			t1 = ring.TriggerRising
		case TriggerFallingCH1:
			t1 = ring.TriggerFalling
		case TriggerRisingCH2:
			t2 = ring.TriggerRising
		case TriggerFallingCH2:
			t2 = ring.TriggerFalling
		case TriggerGeneratorCH1:
			t1 = ring.TriggerGeneratorA
		case TriggerGeneratorCH2:
			t1 = ring.TriggerGeneratorB
		}
	}
	s.ch1.SetTriggerType(t1)
	s.fast.SetTriggerType(t1)
	s.ch2.SetTriggerType(t2)
	s.applyTriggerLevel()
}

func (s *Scope) applyTriggerLevel() {
	v := s.trigger.Load().Level
	ac1 := s.cc1.Load().AC
	ac2 := s.cc2.Load().AC
	p1 := s.conv1.Load()

	level, sens := convert.TriggerLevel(v, fullScale(s.Mode(), CH1), ac1, p1)
	s.ch1.SetTriggerLevel(level, sens)
	level, sens = convert.TriggerLevel(v, convert.FullScale8Bit, ac1, p1)
	s.fast.SetTriggerLevel(level, sens)
	level, sens = convert.TriggerLevel(v, convert.FullScale8Bit, ac2, s.conv2.Load())
	s.ch2.SetTriggerLevel(level, sens)
}

// SetGeneratorClock tells the CH1 triggers the signal generator's period.
func (s *Scope) SetGeneratorClock(ch ring.GeneratorChannel, clkSetting, timerPeriod, waveformSize int) error {
	if err := s.ch1.SetGeneratorClock(ch, clkSetting, timerPeriod, waveformSize); err != nil {
		return err
	}
	return s.fast.SetGeneratorClock(ch, clkSetting, timerPeriod, waveformSize)
}

// TriggerFrequencyHz reports the frequency seen by the active trigger, or
// -1 when triggering is off or no interval is known yet.
func (s *Scope) TriggerFrequencyHz() float64 {
	ts := s.trigger.Load()
	if !ts.Enabled {
		return -1
	}
	if ts.Mode.onCH2() {
		return s.ch2.TriggerFrequencyHz()
	}
	return s.primaryBuffer(s.Mode()).TriggerFrequencyHz()
}

// fireSingleShot freezes every channel and notifies once per capture. Renders
// of the frozen buffers do not notify again until a channel is resumed.
func (s *Scope) fireSingleShot() {
	was1 := s.paused1.Swap(true)
	was2 := s.paused2.Swap(true)
	wasMM := s.pausedMM.Swap(true)
	if was1 && was2 && wasMM {
		return
	}
	select {
	case s.singleShot <- struct{}{}:
		s.log.Info("single shot captured")
	default:
	}
}

func (s *Scope) Display() Display {
	return *s.display.Load()
}

func (s *Scope) updateDisplay(fn func(*Display)) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	d := *s.display.Load()
	fn(&d)
	s.display.Store(&d)
}

// SetWindow sets the visible time span, clamped to the buffer length.
func (s *Scope) SetWindow(seconds float64) {
	s.updateDisplay(func(d *Display) {
		d.Window = math.Min(math.Max(seconds, 0), s.cfg.MaxWindow)
		d.Delay = math.Min(d.Delay, s.cfg.MaxWindow-d.Window)
	})
}

// SetDelay shifts the window into the past, keeping it inside the buffer.
func (s *Scope) SetDelay(seconds float64) {
	s.updateDisplay(func(d *Display) {
		d.Delay = math.Min(math.Max(seconds, 0), s.cfg.MaxWindow-d.Window)
	})
}

func (s *Scope) SetRange(top, bottom float64) {
	s.updateDisplay(func(d *Display) {
		d.Top, d.Bottom = top, bottom
	})
}

func (s *Scope) ChannelConfig(ch Channel) ChannelConfig {
	return *s.channelConfig(ch).Load()
}

func (s *Scope) updateChannel(ch Channel, fn func(*ChannelConfig)) error {
	if ch != CH1 && ch != CH2 {
		return fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	ptr := s.channelConfig(ch)
	cc := *ptr.Load()
	fn(&cc)
	ptr.Store(&cc)
	s.applyTriggerLevel()
	return nil
}

func (s *Scope) SetAC(ch Channel, ac bool) error {
	return s.updateChannel(ch, func(cc *ChannelConfig) { cc.AC = ac })
}

func (s *Scope) SetAttenuation(ch Channel, index int) error {
	att, err := AttenuationFromIndex(index)
	if err != nil {
		return err
	}
	return s.updateChannel(ch, func(cc *ChannelConfig) { cc.Attenuation = att })
}

func (s *Scope) SetOffset(ch Channel, volts float64) error {
	return s.updateChannel(ch, func(cc *ChannelConfig) { cc.Offset = volts })
}

// SetScopeGain changes the front-end gain and rescales the stored samples to
// match once in-flight frames have arrived.
func (s *Scope) SetScopeGain(gain float64) error {
	if gain <= 0 || math.IsNaN(gain) {
		return fmt.Errorf("scope: invalid gain %v", gain)
	}
	old := s.conv1.Load().ScopeGain
	setGain := func(p *convert.Params) { p.ScopeGain = gain }
	s.conv1.Update(setGain)
	s.conv2.Update(setGain)

	s.ctrlMu.Lock()
	s.applyTriggerLevel()
	s.ctrlMu.Unlock()

	s.GainBuffers(old / gain)
	return nil
}

// GainBuffers multiplies the samples of the current mode's buffers by
// 1/multiplier, rounded to a power of two, after gainDelayTicks timer
// periods. multiplier is the old gain over the new one.
func (s *Scope) GainBuffers(multiplier float64) {
	if multiplier <= 0 {
		return
	}
	shift := int(math.Round(math.Log2(multiplier)))
	if shift == 0 {
		return
	}
	time.AfterFunc(gainDelayTicks*s.cfg.TimerPeriod, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.applyGain(shift)
	})
}

// applyGain rescales buffers by 2^-shift, so a negative shift multiplies.
func (s *Scope) applyGain(shift int) {
	mode := s.Mode()
	s.log.Debug("rescaling buffers", "mode", mode, "shift", shift)

	switch mode {
	case domain.ModeCH1Analog, domain.ModeCH1Digital, domain.ModeMultimeter:
		s.ch1.Gain(shift)
	case domain.ModeCH1AnalogCH2Digital, domain.ModeDualAnalog, domain.ModeDualDigital:
		s.ch1.Gain(shift)
		s.ch2.Gain(shift)
	case domain.ModeFastAnalog:
		s.fast.Gain(shift)
	}
}

// properlyPaused reports whether every channel shown in the current mode is
// frozen, which is what allows scrolling back through history.
func (s *Scope) properlyPaused() bool {
	if s.paused1.Load() && s.paused2.Load() {
		return true
	}
	switch s.Mode() {
	case domain.ModeCH1Analog, domain.ModeCH1Digital, domain.ModeFastAnalog:
		return s.paused1.Load()
	}
	return s.pausedMM.Load()
}

// SetPaused freezes or resumes a channel. Resuming discards its history.
func (s *Scope) SetPaused(ch Channel, paused bool) error {
	switch ch {
	case CH1, CH1Fast:
		s.paused1.Store(paused)
		if !paused {
			s.ch1.Clear()
			s.fast.Clear()
		}
	case CH2:
		s.paused2.Store(paused)
		if !paused {
			s.ch2.Clear()
		}
	default:
		return fmt.Errorf("%w: %d", ErrBadChannel, ch)
	}
	s.resetDelayIfLive()
	return nil
}

func (s *Scope) SetMultimeterPaused(paused bool) {
	s.pausedMM.Store(paused)
	if !paused {
		s.ch1.Clear()
	}
	s.resetDelayIfLive()
}

func (s *Scope) resetDelayIfLive() {
	if !s.properlyPaused() {
		s.updateDisplay(func(d *Display) { d.Delay = 0 })
	}
}

func (s *Scope) Paused(ch Channel) bool {
	switch ch {
	case CH1, CH1Fast:
		return s.paused1.Load()
	case CH2:
		return s.paused2.Load()
	}
	return false
}

// SetMultimeter changes the measurement type or its circuit parameters.
func (s *Scope) SetMultimeter(cfg multimeter.Config) {
	s.meterMu.Lock()
	s.meter.SetConfig(cfg)
	s.meterMu.Unlock()
	s.reading.Store(nil)
}

// MeasureMultimeter computes a reading from the latest CH1 data.
func (s *Scope) MeasureMultimeter() (multimeter.Reading, error) {
	if s.Mode() != domain.ModeMultimeter {
		return multimeter.Reading{}, errors.New("scope: not in multimeter mode")
	}
	in := multimeter.Input{
		Stats:        s.Stats(CH1),
		MeanVoltage:  s.MeanVoltageLast(s.cfg.SlowPeriod.Seconds(), CH1),
		CH2Reference: s.conv2.Load().Reference,
		Params:       s.conv1.Load(),
		Charge:       s.ch1,
	}

	s.meterMu.Lock()
	r, err := s.meter.Measure(in)
	s.meterMu.Unlock()
	if err != nil {
		return r, err
	}
	s.reading.Store(&r)
	return r, nil
}

// Reading returns the last successful multimeter reading.
func (s *Scope) Reading() (multimeter.Reading, bool) {
	r := s.reading.Load()
	if r == nil {
		return multimeter.Reading{}, false
	}
	return *r, true
}
