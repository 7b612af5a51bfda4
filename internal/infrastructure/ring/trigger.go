// ABOUTME: Trigger state machine evaluated once per inserted sample
// ABOUTME: Level-crossing with hysteresis, or locked to the signal generator period
package ring

import (
	"errors"
	"fmt"
	"math"
)

type TriggerType int

const (
	TriggerDisabled TriggerType = iota
	TriggerRising
	TriggerFalling
	TriggerGeneratorA
	TriggerGeneratorB
)

func (t TriggerType) String() string {
	switch t {
	case TriggerDisabled:
		return "disabled"
	case TriggerRising:
		return "rising"
	case TriggerFalling:
		return "falling"
	case TriggerGeneratorA:
		return "generator-a"
	case TriggerGeneratorB:
		return "generator-b"
	}
	return fmt.Sprintf("TriggerType(%d)", int(t))
}

func (t TriggerType) generator() (int, bool) {
	switch t {
	case TriggerGeneratorA:
		return 0, true
	case TriggerGeneratorB:
		return 1, true
	}
	return 0, false
}

type SeekState int

const (
	BelowLevel SeekState = iota
	AboveLevel
)

// GeneratorChannel selects one of the two signal generator outputs.
type GeneratorChannel int

const (
	GeneratorA GeneratorChannel = iota
	GeneratorB
)

// ClockFreq is the generator's timer clock in Hz.
const ClockFreq = 48000000.0

var validClockDivs = [...]float64{1, 2, 4, 8, 64, 256, 1024}

// cycleTolerance absorbs floating point error when testing whether a
// distance is a whole number of generator periods.
const cycleTolerance = 1e-6

var ErrInvalidClock = errors.New("ring: invalid generator clock setting")

type trigger struct {
	typ         TriggerType
	level       int16
	sensitivity int16
	seek        SeekState

	markers []bool

	isReset   bool
	hasLast   bool
	lastTotal uint64
	lastDelta float64 // seconds, 0 when unknown

	samplesPerCycle [2]float64
}

func (t *trigger) init(capacity int) {
	t.markers = make([]bool, 2*capacity)
	t.isReset = true
}

func (t *trigger) reset() {
	clear(t.markers)
	t.isReset = true
	t.hasLast = false
}

func (b *Buffer) TriggerType() TriggerType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trig.typ
}

func (b *Buffer) SetTriggerType(typ TriggerType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if typ == b.trig.typ {
		return
	}
	b.trig.typ = typ
	b.trig.reset()
	b.trig.lastDelta = 0
}

// SetTriggerLevel sets the raw trigger level and its hysteresis half-width.
func (b *Buffer) SetTriggerLevel(level, sensitivity int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trig.level = level
	b.trig.sensitivity = sensitivity
	b.trig.lastDelta = 0
}

// SetGeneratorClock records the generator's output period in buffer samples.
// clkSetting indexes the divider table starting at 1.
func (b *Buffer) SetGeneratorClock(ch GeneratorChannel, clkSetting, timerPeriod, waveformSize int) error {
	if clkSetting < 1 || clkSetting > len(validClockDivs) {
		return fmt.Errorf("%w: %d", ErrInvalidClock, clkSetting)
	}
	if ch != GeneratorA && ch != GeneratorB {
		return fmt.Errorf("ring: unknown generator channel %d", ch)
	}

	freqRatio := (ClockFreq / b.sps) / validClockDivs[clkSetting-1]
	spc := float64(waveformSize) * float64(timerPeriod+1) / freqRatio

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trig.samplesPerCycle[ch] == spc {
		return nil
	}
	b.trig.samplesPerCycle[ch] = spc
	if g, ok := b.trig.typ.generator(); ok && g == int(ch) {
		b.trig.reset()
	}
	return nil
}

// SamplesPerCycle reports the generator period in samples, 0 if unset.
func (b *Buffer) SamplesPerCycle(ch GeneratorChannel) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch != GeneratorA && ch != GeneratorB {
		return 0
	}
	return b.trig.samplesPerCycle[ch]
}

// evaluateTrigger runs the trigger state machine for the sample just
// written at slot p.
func (b *Buffer) evaluateTrigger(p int) {
	t := &b.trig
	if t.typ == TriggerDisabled {
		return
	}

	t.markers[p] = false
	t.markers[p+b.capacity] = false

	wasReset := t.isReset
	t.isReset = false

	if g, ok := t.typ.generator(); ok {
		if wasReset || !t.hasLast {
			b.fire(p, 0)
			return
		}
		spc := t.samplesPerCycle[g]
		if spc <= 0 {
			return
		}
		dist := float64(b.total - t.lastTotal)
		cycles := math.Floor(dist / spc)
		rem := dist - cycles*spc
		if spc-rem <= cycleTolerance {
			cycles++
			rem = 0
		}
		if cycles >= 1 && rem <= cycleTolerance {
			b.fire(p, cycles)
		}
		return
	}

	s := int32(b.buf[p])
	hi := int32(t.level) + int32(t.sensitivity)
	lo := int32(t.level) - int32(t.sensitivity)

	switch {
	case t.seek == BelowLevel && s >= hi:
		t.seek = AboveLevel
		if t.typ == TriggerRising {
			b.fire(p, 1)
		}
	case t.seek == AboveLevel && s < lo:
		t.seek = BelowLevel
		if t.typ == TriggerFalling {
			b.fire(p, 1)
		}
	}
}

// fire marks slot p as a trigger. cycles is the number of signal periods
// since the previous trigger; 0 means the interval carries no frequency.
func (b *Buffer) fire(p int, cycles float64) {
	t := &b.trig
	if t.hasLast && cycles > 0 {
		t.lastDelta = float64(b.total-t.lastTotal) / b.sps / cycles
	}
	t.lastTotal = b.total
	t.hasLast = true
	t.markers[p] = true
	t.markers[p+b.capacity] = true
}

// DelayedTriggerPoint searches back from delay seconds before the newest
// sample for the nearest trigger that still leaves a full window of older
// samples. It returns the read delay in samples that puts that trigger at the
// window's right edge, or the plain delay when nothing is found.
func (b *Buffer) DelayedTriggerPoint(delay, window float64) (int, bool) {
	delaySamples := int(delay * b.sps)
	windowSamples := int(window * b.sps)
	if delaySamples < 0 || math.IsNaN(delay) {
		delaySamples = 0
	}
	if windowSamples < 0 || math.IsNaN(window) {
		windowSamples = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.trig.typ == TriggerDisabled {
		return delaySamples, false
	}

	limit := b.n - windowSamples
	for k := delaySamples; k < limit; k++ {
		if b.trig.markers[b.index(k)] {
			return k, true
		}
	}
	return delaySamples, false
}

// TriggerFrequencyHz returns the rate of the last two triggers, or -1 when
// no interval has been observed.
func (b *Buffer) TriggerFrequencyHz() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trig.lastDelta == 0 {
		return -1
	}
	return 1 / b.trig.lastDelta
}

// IsTriggered reports whether the sample offset positions before the newest
// one was recognised as a trigger.
func (b *Buffer) IsTriggered(offset int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 || offset >= b.n {
		return false
	}
	return b.trig.markers[b.index(offset)]
}

// SeekState reports the level detector's current side of the trigger band.
func (b *Buffer) SeekState() SeekState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trig.seek
}
