// ABOUTME: Tests for the averaging DAQ recorder
// ABOUTME: Verifies averaging, line breaks, size limit and file output
package daqlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestRecorder_Averaging(t *testing.T) {
	out := &bufCloser{}
	r := NewRecorder("", nil)
	if err := r.Start(out, 2, 0, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, v := range []float64{1, 2, 3, 5, 7} {
		if err := r.Feed(v); err != nil {
			t.Fatalf("Feed(%v) failed: %v", v, err)
		}
	}
	if err := r.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	body := strings.TrimPrefix(out.String(), string(Header("", 2, 0)))
	if body != "1.50000, 4.00000, " {
		t.Errorf("expected two averaged records, got %q", body)
	}
	if !out.closed {
		t.Error("Disable should close the writer")
	}
	if r.BytesWritten() != 2*RecordSize {
		t.Errorf("expected %d bytes counted, got %d", 2*RecordSize, r.BytesWritten())
	}
}

func TestRecorder_ColumnBreak(t *testing.T) {
	out := &bufCloser{}
	r := NewRecorder("", nil)
	if err := r.Start(out, 1, 0, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < ColumnBreak+1; i++ {
		if err := r.Feed(1); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	r.Disable()

	lines := strings.Split(out.String(), "\n")
	// Three header lines, one full row, one partial row.
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	if n := strings.Count(lines[3], ","); n != ColumnBreak {
		t.Errorf("expected %d records on the first row, got %d", ColumnBreak, n)
	}
	if lines[4] != "1.00000, " {
		t.Errorf("expected one record on the second row, got %q", lines[4])
	}
}

func TestRecorder_LimitReached(t *testing.T) {
	out := &bufCloser{}
	r := NewRecorder("", nil)
	if err := r.Start(out, 1, 18, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	limit := r.LimitReached()

	if err := r.Feed(1); err != nil {
		t.Fatalf("first record should fit, got %v", err)
	}
	select {
	case <-limit:
		t.Fatal("limit signalled too early")
	default:
	}

	if err := r.Feed(2); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	select {
	case <-limit:
	default:
		t.Fatal("limit channel should be closed")
	}

	if r.Enabled() {
		t.Error("recorder should disable itself at the limit")
	}
	if err := r.Feed(3); !errors.Is(err, ErrNotEnabled) {
		t.Errorf("expected ErrNotEnabled after limit, got %v", err)
	}
	if !out.closed {
		t.Error("writer should be closed at the limit")
	}

	body := strings.TrimPrefix(out.String(), string(Header("", 1, 0)))
	if body != "1.00000, 2.00000, " {
		t.Errorf("expected exactly two records, got %q", body)
	}
}

func TestRecorder_RecordIgnoresDisabled(t *testing.T) {
	r := NewRecorder("", nil)
	r.Record(1)

	if r.BytesWritten() != 0 {
		t.Errorf("disabled recorder should not count bytes, got %d", r.BytesWritten())
	}
	if err := r.Disable(); err != nil {
		t.Errorf("Disable on idle recorder should be a no-op, got %v", err)
	}
}

func TestRecorder_InvalidAveraging(t *testing.T) {
	r := NewRecorder("", nil)
	if err := r.Start(&bufCloser{}, 0, 0, 0); !errors.Is(err, ErrInvalidAveraging) {
		t.Errorf("expected ErrInvalidAveraging, got %v", err)
	}
}

func TestRecorder_RestartClosesPrevious(t *testing.T) {
	first := &bufCloser{}
	second := &bufCloser{}
	r := NewRecorder("", nil)

	r.Start(first, 1, 0, 0)
	r.Feed(1)
	r.Start(second, 1, 0, 2)

	if !first.closed {
		t.Error("starting again should close the previous writer")
	}
	if !strings.HasSuffix(first.String(), "1.00000, ") {
		t.Errorf("previous recording should be flushed, got %q", first.String())
	}
	if !strings.Contains(second.String(), "Mode = 2") {
		t.Errorf("new recording should carry its own header, got %q", second.String())
	}
}

func TestRecorder_Enable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	r := NewRecorder("Bench", nil)

	if err := r.Enable(path, 1, 0, 7); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	r.Record(0.25)
	if err := r.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	want := "Bench DAQ V1.0 Output File\nAveraging = 1\nMode = 7\n0.25000, "
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, string(data))
	}
}

func TestRecorder_EnableBadPath(t *testing.T) {
	r := NewRecorder("", nil)
	path := filepath.Join(t.TempDir(), "missing", "capture.csv")

	if err := r.Enable(path, 1, 0, 0); err == nil {
		t.Error("expected error for unwritable path")
	}
	if r.Enabled() {
		t.Error("recorder should stay disabled after a failed Enable")
	}
}
