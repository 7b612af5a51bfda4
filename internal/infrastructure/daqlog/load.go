// ABOUTME: Reads DAQ recording files back into memory
// ABOUTME: Parses the header and selects values between two timestamps
package daqlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrBadHeader = errors.New("daqlog: malformed header")

const (
	baseSampleRate = 375000.0
	fastSampleRate = 750000.0
	fastMode       = 6
)

// Recording is the slice of a DAQ file between Start and the end time.
type Recording struct {
	Product    string
	Averaging  int
	Mode       int
	SampleRate float64 // records per second
	Total      int     // records in the whole file
	Start      float64 // seconds, time of Values[0]
	Values     []float64
}

// Duration is the length of the whole file in seconds.
func (r *Recording) Duration() float64 {
	return float64(r.Total) / r.SampleRate
}

// Load parses a recording and keeps the values timed in [start, end) seconds.
// Record k is timed at k/SampleRate. An end of zero or less keeps everything
// after start.
func Load(r io.Reader, start, end float64) (*Recording, error) {
	br := bufio.NewReader(r)

	title, err := headerLine(br)
	if err != nil {
		return nil, err
	}
	product, ok := strings.CutSuffix(title, headerTitle)
	if !ok {
		return nil, fmt.Errorf("%w: title %q", ErrBadHeader, title)
	}

	averaging, err := headerValue(br, "Averaging")
	if err != nil {
		return nil, err
	}
	if averaging < 1 {
		return nil, fmt.Errorf("%w: averaging %d", ErrBadHeader, averaging)
	}
	mode, err := headerValue(br, "Mode")
	if err != nil {
		return nil, err
	}

	rate := baseSampleRate
	if mode == fastMode {
		rate = fastSampleRate
	}
	rate /= float64(averaging)

	rec := &Recording{
		Product:    product,
		Averaging:  averaging,
		Mode:       mode,
		SampleRate: rate,
	}

	if start < 0 {
		start = 0
	}
	first := int(start * rate)
	last := -1
	if end > 0 {
		last = int(end * rate)
	}
	rec.Start = float64(first) / rate

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	k := 0
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read records: %w", err)
		}
		for _, f := range fields {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if k >= first && (last < 0 || k < last) {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return nil, fmt.Errorf("record %d: %w", k, err)
				}
				rec.Values = append(rec.Values, v)
			}
			k++
		}
	}
	rec.Total = k

	return rec, nil
}

func headerLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func headerValue(br *bufio.Reader, key string) (int, error) {
	line, err := headerLine(br)
	if err != nil {
		return 0, err
	}
	name, value, ok := strings.Cut(line, "=")
	if !ok || strings.TrimSpace(name) != key {
		return 0, fmt.Errorf("%w: expected %s, got %q", ErrBadHeader, key, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadHeader, key, err)
	}
	return n, nil
}
