// ABOUTME: Tests for DAQ recording loading
// ABOUTME: Verifies header parsing, sample rate derivation and time selection
package daqlog

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func recording(averaging, mode, count int) string {
	var sb strings.Builder
	sb.Write(Header("", averaging, mode))
	var rec []byte
	for i := 0; i < count; i++ {
		rec = AppendRecord(rec[:0], float64(i)/1000)
		sb.Write(rec)
		if (i+1)%ColumnBreak == 0 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func TestLoad_All(t *testing.T) {
	rec, err := Load(strings.NewReader(recording(1, 0, 2000)), 0, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if rec.Product != DefaultProduct {
		t.Errorf("expected product %q, got %q", DefaultProduct, rec.Product)
	}
	if rec.Total != 2000 || len(rec.Values) != 2000 {
		t.Fatalf("expected 2000 values, got total=%d loaded=%d", rec.Total, len(rec.Values))
	}
	if rec.SampleRate != 375000 {
		t.Errorf("expected 375000 Sa/s, got %v", rec.SampleRate)
	}
	if rec.Values[1999] != 1.999 {
		t.Errorf("expected last value 1.999, got %v", rec.Values[1999])
	}
}

func TestLoad_SampleRate(t *testing.T) {
	tests := []struct {
		averaging int
		mode      int
		want      float64
	}{
		{1, 0, 375000},
		{1, 6, 750000},
		{10, 6, 75000},
		{375, 2, 1000},
	}

	for _, tt := range tests {
		rec, err := Load(strings.NewReader(recording(tt.averaging, tt.mode, 3)), 0, 0)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if rec.SampleRate != tt.want {
			t.Errorf("averaging %d mode %d: expected %v Sa/s, got %v", tt.averaging, tt.mode, tt.want, rec.SampleRate)
		}
	}
}

func TestLoad_Window(t *testing.T) {
	// 1000 Sa/s after averaging, so values are 1 ms apart.
	rec, err := Load(strings.NewReader(recording(375, 0, 2000)), 0.5, 1.0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(rec.Values) != 500 {
		t.Fatalf("expected 500 values, got %d", len(rec.Values))
	}
	if rec.Values[0] != 0.5 {
		t.Errorf("expected first value 0.5, got %v", rec.Values[0])
	}
	if rec.Start != 0.5 {
		t.Errorf("expected start 0.5 s, got %v", rec.Start)
	}
	if math.Abs(rec.Duration()-2) > 1e-12 {
		t.Errorf("expected duration 2 s, got %v", rec.Duration())
	}
}

func TestLoad_CRLF(t *testing.T) {
	in := "EspoTek Labrador DAQ V1.0 Output File\r\nAveraging = 1\r\nMode = 0\r\n1.00000, 2.00000, \r\n"

	rec, err := Load(strings.NewReader(in), 0, 0)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rec.Values) != 2 || rec.Values[1] != 2 {
		t.Errorf("expected [1 2], got %v", rec.Values)
	}
}

func TestLoad_BadHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"wrong title", "Something Else\nAveraging = 1\nMode = 0\n"},
		{"missing averaging", "X DAQ V1.0 Output File\nMode = 0\n"},
		{"zero averaging", "X DAQ V1.0 Output File\nAveraging = 0\nMode = 0\n"},
		{"non-numeric mode", "X DAQ V1.0 Output File\nAveraging = 1\nMode = fast\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tt.in), 0, 0); !errors.Is(err, ErrBadHeader) {
				t.Errorf("expected ErrBadHeader, got %v", err)
			}
		})
	}
}

func TestLoad_BadValue(t *testing.T) {
	in := string(Header("", 1, 0)) + "1.00000, abc, \n"

	if _, err := Load(strings.NewReader(in), 0, 0); err == nil {
		t.Error("expected error for non-numeric record")
	}
}
