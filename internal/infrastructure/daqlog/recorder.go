// ABOUTME: Streams averaged channel voltages into a DAQ recording file
// ABOUTME: Self-disables and signals when the configured byte limit is reached
package daqlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	ErrNotEnabled       = errors.New("daqlog: recorder not enabled")
	ErrLimitReached     = errors.New("daqlog: file size limit reached")
	ErrInvalidAveraging = errors.New("daqlog: averaging must be at least 1")
)

// Recorder averages every averaging samples into one record. A maxBytes of
// zero means no limit.
type Recorder struct {
	product string
	log     *slog.Logger

	mu        sync.Mutex
	enabled   bool
	w         io.WriteCloser
	bw        *bufio.Writer
	scratch   []byte
	averaging int
	acc       float64
	count     int
	column    int
	written   uint64
	maxBytes  uint64
	limit     chan struct{}
}

func NewRecorder(product string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		product: product,
		log:     logger,
		scratch: make([]byte, 0, 32),
	}
}

// Enable creates path and starts recording into it.
func (r *Recorder) Enable(path string, averaging int, maxBytes uint64, mode int) error {
	if averaging < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAveraging, averaging)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	if err := r.Start(f, averaging, maxBytes, mode); err != nil {
		f.Close()
		return err
	}
	r.log.Info("recording enabled", "path", path, "averaging", averaging, "max_bytes", maxBytes)
	return nil
}

// Start begins a recording over w, closing any recording in progress.
func (r *Recorder) Start(w io.WriteCloser, averaging int, maxBytes uint64, mode int) error {
	if averaging < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAveraging, averaging)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		if err := r.closeLocked(); err != nil {
			r.log.Warn("closing previous recording", "error", err)
		}
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Header(r.product, averaging, mode)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	r.w = w
	r.bw = bw
	r.averaging = averaging
	r.maxBytes = maxBytes
	r.acc = 0
	r.count = 0
	r.column = 0
	r.written = 0
	r.limit = make(chan struct{})
	r.enabled = true
	return nil
}

// Feed adds one converted sample. It returns ErrLimitReached on the record
// that fills the file, after which the recorder is disabled.
func (r *Recorder) Feed(v float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return ErrNotEnabled
	}

	r.acc += v
	r.count++
	if r.count < r.averaging {
		return nil
	}

	avg := r.acc / float64(r.count)
	r.acc = 0
	r.count = 0

	r.scratch = AppendRecord(r.scratch[:0], avg)
	if _, err := r.bw.Write(r.scratch); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	r.column++
	if r.column == ColumnBreak {
		if err := r.bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		r.column = 0
	}

	r.written += RecordSize
	if r.maxBytes != 0 && r.written >= r.maxBytes {
		if err := r.closeLocked(); err != nil {
			r.log.Warn("closing full recording", "error", err)
		}
		close(r.limit)
		return ErrLimitReached
	}
	return nil
}

// Record satisfies ring.Recorder. Errors are logged, not returned.
func (r *Recorder) Record(v float64) {
	err := r.Feed(v)
	switch {
	case err == nil, errors.Is(err, ErrNotEnabled):
	case errors.Is(err, ErrLimitReached):
		r.log.Info("recording stopped at size limit", "bytes", r.BytesWritten())
	default:
		r.log.Error("recording write failed", "error", err)
	}
}

// Disable flushes and closes the current file. It is a no-op when idle.
func (r *Recorder) Disable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return nil
	}
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	r.enabled = false
	r.column = 0
	ferr := r.bw.Flush()
	cerr := r.w.Close()
	r.w = nil
	r.bw = nil
	if ferr != nil {
		return fmt.Errorf("flush recording: %w", ferr)
	}
	if cerr != nil {
		return fmt.Errorf("close recording: %w", cerr)
	}
	return nil
}

func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Recorder) BytesWritten() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// LimitReached is closed when the current recording stops at its size
// limit. It is nil before the first Start.
func (r *Recorder) LimitReached() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}
