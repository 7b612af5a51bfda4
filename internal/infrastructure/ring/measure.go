// ABOUTME: Debounced threshold search used for RC charge-time measurement
// ABOUTME: Scans backwards through stored samples with a noise-tolerant run counter
package ring

// NotFound is returned by ChargeSearch when no qualifying run exists.
const NotFound = -1

// Comparator decides whether a sample satisfies a threshold.
type Comparator func(sample, threshold int16) bool

func Less(sample, threshold int16) bool    { return sample < threshold }
func Greater(sample, threshold int16) bool { return sample > threshold }

// ChargeSearch scans the last seconds of samples, shifted towards the present
// by -offset, from oldest to newest. A run counter goes up on every sample
// satisfying cmp and down (not below zero) on every other sample. When it
// reaches target the position is returned, counted in samples from the start
// of the unshifted window.
func (b *Buffer) ChargeSearch(offset, target int, seconds float64, threshold int16, cmp Comparator) int {
	samples := int(seconds * b.sps)

	b.mu.Lock()
	defer b.mu.Unlock()

	start := samples + offset
	if start <= 0 || start > b.n {
		return NotFound
	}

	found := 0
	for i := start - 1; i >= 0; i-- {
		if cmp(b.at(i), threshold) {
			found++
		} else if found > 0 {
			found--
		}
		if found >= target {
			return samples - i
		}
	}
	return NotFound
}
