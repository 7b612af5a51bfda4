// ABOUTME: Mirrored circular buffer of raw ADC samples for one channel
// ABOUTME: Serves interpolated windowed reads backwards from the newest sample
package ring

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var ErrOutOfRange = errors.New("ring: offset beyond inserted samples")

// Recorder receives every inserted sample after conversion to volts.
type Recorder interface {
	Record(v float64)
}

// Buffer keeps capacity samples twice: slot i and i+capacity always hold the
// same value, so any backward read of up to capacity samples is contiguous.
type Buffer struct {
	buf      []int16
	capacity int
	w        int    // write cursor
	n        int    // samples stored, saturates at capacity
	total    uint64 // samples ever inserted
	sps      float64

	trig trigger

	rec  Recorder
	conv func(int16) float64

	mu sync.Mutex
}

func New(capacity int, samplesPerSecond float64) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{
		buf:      make([]int16, 2*capacity),
		capacity: capacity,
		sps:      samplesPerSecond,
	}
	b.trig.init(capacity)
	return b
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) SamplesPerSecond() float64 {
	return b.sps
}

func (b *Buffer) Inserted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// AttachRecorder routes every future insert through conv into rec.
// A nil rec detaches.
func (b *Buffer) AttachRecorder(rec Recorder, conv func(int16) float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec == nil || conv == nil {
		b.rec, b.conv = nil, nil
		return
	}
	b.rec, b.conv = rec, conv
}

func (b *Buffer) Insert(s int16) {
	b.mu.Lock()
	b.insert(s)
	b.mu.Unlock()
}

// Write inserts a batch of samples under a single critical section.
func (b *Buffer) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range samples {
		b.insert(s)
	}
}

// WriteBytes inserts signed 8-bit samples.
func (b *Buffer) WriteBytes(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range p {
		b.insert(int16(int8(c)))
	}
}

// WriteShorts inserts 12-bit samples delivered left-aligned in 16-bit words.
func (b *Buffer) WriteShorts(p []int16) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range p {
		b.insert(s >> 4)
	}
}

func (b *Buffer) insert(s int16) {
	p := b.w
	b.buf[p] = s
	b.buf[p+b.capacity] = s

	b.w++
	if b.w == b.capacity {
		b.w = 0
	}
	if b.n < b.capacity {
		b.n++
	}
	b.total++

	b.evaluateTrigger(p)

	if b.rec != nil {
		b.rec.Record(b.conv(s))
	}
}

// index returns the storage slot holding the sample offset positions before
// the newest one. offset must be in [0, capacity].
func (b *Buffer) index(offset int) int {
	i := b.w - 1 + b.capacity - offset
	if i < 0 {
		i += b.capacity
	}
	return i
}

func (b *Buffer) at(offset int) int16 {
	return b.buf[b.index(offset)]
}

// BufferAt returns the sample offset positions before the newest one.
func (b *Buffer) BufferAt(offset int) (int16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 || offset > b.n {
		return 0, fmt.Errorf("%w: offset %d, inserted %d", ErrOutOfRange, offset, b.n)
	}
	return b.at(offset), nil
}

// ReadWindow walks backwards from delaySamples in steps of
// duration*sps/(outputCount-1), interpolating between neighbouring samples.
// Elements past the oldest stored sample are left at zero. In singleBit mode
// each element is one bit of the lower-bound sample, picked by the fractional
// position, for bit-packed logic captures. A non-positive or NaN duration
// yields an all-zero window.
func (b *Buffer) ReadWindow(duration float64, outputCount int, singleBit bool, delaySamples float64) []int16 {
	if outputCount <= 0 {
		return nil
	}
	out := make([]int16, outputCount)

	// A non-positive span would walk forward past the newest sample.
	if duration <= 0 || math.IsNaN(duration) {
		return out
	}
	stride := 0.0
	if outputCount > 1 {
		stride = duration * b.sps / float64(outputCount-1)
	}
	if delaySamples < 0 || math.IsNaN(delaySamples) {
		delaySamples = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pos := delaySamples
	limit := float64(b.n)
	for i := 0; i < outputCount && pos < limit; i++ {
		lb := math.Floor(pos)
		frac := pos - lb
		lo := int(lb)
		dlo := b.at(lo)

		switch {
		case singleBit:
			bit := uint(8 * (math.Ceil(pos) - pos))
			if bit > 7 {
				bit = 7
			}
			out[i] = (dlo >> bit) & 1
		case frac == 0:
			out[i] = dlo
		default:
			hi := lo + 1
			if hi > b.n-1 {
				hi = b.n - 1
			}
			dhi := b.at(hi)
			out[i] = int16(int32(dlo) + int32(math.Round(float64(int32(dhi)-int32(dlo))*frac)))
		}

		pos += stride
	}

	return out
}

// Gain rescales every stored sample: shift < 0 multiplies by 2^-shift,
// shift > 0 divides by 2^shift.
func (b *Buffer) Gain(shift int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.buf {
		if shift < 0 {
			b.buf[i] <<= uint(-shift)
		} else {
			b.buf[i] >>= uint(shift)
		}
	}
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.buf)
	b.w = 0
	b.n = 0
	b.trig.reset()
}
